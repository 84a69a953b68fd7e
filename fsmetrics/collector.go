// Package fsmetrics exports the fill level and operation counters of a
// mounted filesystem to prometheus.
package fsmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keks/flashfs/logfs"
)

const (
	namespace = "flashfs"
	subsystem = "logfs"
)

func desc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, nil)
}

var (
	validDesc       = desc("mounted", "1 if the filesystem is mounted.")
	serialDesc      = desc("serial", "Serial of the active generation.")
	needsOptDesc    = desc("needs_optimization", "1 if the filesystem should be optimized before the next write.")
	filesDesc       = desc("files", "Number of live files.")
	fileBytesDesc   = desc("file_bytes", "Total size of the live files.")
	headerFreeDesc  = desc("header_slots_free", "Record slots left in the active header block.")
	dataFreeDesc    = desc("data_bytes_free", "Bytes left in the current data block.")
	dataSpareDesc   = desc("data_blocks_spare", "Data blocks the active generation may still take.")
	writesDesc      = desc("writes_total", "Files written since mount.")
	deletesDesc     = desc("deletes_total", "Files deleted since mount.")
	compactionsDesc = desc("compactions_total", "Optimizations since mount.")
	formatsDesc     = desc("formats_total", "Formats since mount.")
)

// Collector reads the state of a filesystem on every scrape. The
// filesystem does no locking, so scrapes must not overlap with writes.
type Collector struct {
	fs *logfs.FS
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(fs *logfs.FS) *Collector {
	return &Collector{fs: fs}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		validDesc, serialDesc, needsOptDesc,
		filesDesc, fileBytesDesc,
		headerFreeDesc, dataFreeDesc, dataSpareDesc,
		writesDesc, deletesDesc, compactionsDesc, formatsDesc,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	st := c.fs.Stats()
	counter(writesDesc, st.Writes)
	counter(deletesDesc, st.Deletes)
	counter(compactionsDesc, st.Compactions)
	counter(formatsDesc, st.Formats)

	if !c.fs.Valid() {
		gauge(validDesc, 0)
		return
	}

	u := c.fs.Usage()
	gauge(validDesc, 1)
	gauge(serialDesc, float64(c.fs.Serial()))
	gauge(needsOptDesc, boolValue(c.fs.NeedsOptimization()))
	gauge(filesDesc, float64(u.Files))
	gauge(fileBytesDesc, float64(u.FileBytes))
	gauge(headerFreeDesc, float64(u.HeaderFree))
	gauge(dataFreeDesc, float64(u.DataFree))
	gauge(dataSpareDesc, float64(u.DataSpare))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Registry returns a registry that holds only the collector for fs.
func Registry(fs *logfs.FS) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(fs))
	return reg
}

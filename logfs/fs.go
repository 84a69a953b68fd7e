// Package logfs is a log structured filesystem on raw flash blocks.
//
// A filesystem generation consists of one header block and a run of data
// blocks. The header block starts with a 16 byte header carrying a serial
// number and is followed by fixed size records that describe files and their
// versions. Records and payloads are only ever appended; a file is updated by
// appending a new version. Optimize copies the live files into the next
// header block and the next data blocks, commits the new generation by
// writing the end marker of its header, and erases the old blocks. If power
// is lost at any point, mounting picks the newest committed generation.
//
// The filesystem does no locking. One operation at a time.
package logfs

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keks/flashfs"
	"github.com/keks/flashfs/flashblk"
)

// Usage describes how full the active generation is.
type Usage struct {
	HeaderSlots int // record slots in a header block
	HeaderFree  int // record slots left in the active header block

	DataBlocks int // data blocks held by the generation
	DataSpare  int // data blocks the generation may still take
	DataFree   int // bytes left in the current data block

	Files     int
	FileBytes int
}

// Stats counts operations since mount.
type Stats struct {
	Writes      uint64
	Deletes     uint64
	Compactions uint64
	Formats     uint64
}

// FS is a mounted filesystem.
type FS struct {
	cfg Config
	log logrus.FieldLogger

	header []*flashblk.Block
	data   []*flashblk.Block

	valid    bool
	needsOpt bool

	serial    uint32
	maxSerial uint32 // highest committed serial seen
	active    int    // index into header

	hlog  *headerLog
	dlog  *dataLog
	table *fileTable

	stats Stats
}

// New mounts the filesystem described by cfg, formatting the region if no
// header block is valid. The returned FS is non-nil whenever cfg itself is
// valid, so that after a mount error the caller can still inspect it and
// Format it.
func New(cfg Config) (*FS, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	fs := &FS{
		cfg: cfg,
		log: cfg.Logger,
	}
	fs.header, fs.data = cfg.Layout.Open(cfg.Device)

	if err := fs.mount(); err != nil {
		fs.log.WithError(err).Error("logfs: mount failed")
		return fs, err
	}

	return fs, nil
}

type candidate struct {
	idx int
	hdr fsHeader
}

func (fs *FS) mount() error {
	var cands []candidate
	for i, blk := range fs.header {
		hdr, err := readHeader(blk)
		if err != nil {
			return err
		}

		switch hdr.state() {
		case headerValid:
			cands = append(cands, candidate{idx: i, hdr: hdr})
			if hdr.Serial > fs.maxSerial {
				fs.maxSerial = hdr.Serial
			}
		case headerTorn:
			// the serial of a torn header may be only partly programmed
			fs.log.WithField("block", blk.ID()).Warn("logfs: ignoring uncommitted header block")
		}
	}

	if len(cands) == 0 {
		return fs.format()
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].hdr.Serial > cands[j].hdr.Serial })
	if len(cands) > 1 && cands[0].hdr.Serial == cands[1].hdr.Serial {
		return errors.Wrapf(ErrCorrupt, "header blocks %d and %d share serial %d",
			fs.header[cands[0].idx].ID(), fs.header[cands[1].idx].ID(), cands[0].hdr.Serial)
	}

	if err := fs.load(cands[0].idx, cands[0].hdr); err != nil {
		return err
	}

	// an older generation is left over when power was lost after a
	// compaction committed but before it erased its source
	for _, c := range cands[1:] {
		blk := fs.header[c.idx]
		fs.log.WithFields(logrus.Fields{
			"block":  blk.ID(),
			"serial": c.hdr.Serial,
		}).Info("logfs: retiring stale header block")

		if err := blk.Erase(); err != nil {
			return err
		}
	}

	return nil
}

// load makes the generation in header block idx the active one.
func (fs *FS) load(idx int, hdr fsHeader) error {
	fs.valid = false

	if int(hdr.DataStart) >= len(fs.data) {
		return errors.Wrapf(ErrCorrupt, "data start %d out of range", hdr.DataStart)
	}

	hlog := newHeaderLog(fs.header[idx])
	dlog := newDataLog(fs.data, int(hdr.DataStart), len(fs.data)-1)
	table := newFileTable()

	var last, end int
	err := hlog.replay(func(r Record) error {
		if r.State == StateVersion {
			i, ok := dlog.owns(r.Addr, r.Size)
			if !ok {
				if _, data := fs.cfg.Locate(r.Addr, r.Size); data {
					return errors.Wrapf(ErrCorrupt, "file id %d: payload 0x%x+%d in a data block of another generation", r.ID, r.Addr, r.Size)
				}
				return errors.Wrapf(ErrCorrupt, "file id %d: payload 0x%x+%d outside the data log", r.ID, r.Addr, r.Size)
			}

			e := int(r.Addr-dlog.block(i).Addr()) + int(r.Size)
			if i > last {
				last, end = i, e
			} else if i == last && e > end {
				end = e
			}
		}

		return table.apply(r)
	})
	if err != nil {
		return err
	}

	if err := dlog.restore(last+1, end); err != nil {
		return err
	}

	if hlog.torn > 0 {
		fs.log.WithFields(logrus.Fields{
			"block": fs.header[idx].ID(),
			"slots": hlog.torn,
		}).Warn("logfs: skipped uncommitted records")
	}

	fs.active = idx
	fs.serial = hdr.Serial
	if fs.serial > fs.maxSerial {
		fs.maxSerial = fs.serial
	}
	fs.hlog, fs.dlog, fs.table = hlog, dlog, table
	fs.valid = true
	fs.checkCapacity()

	return nil
}

// nextSerial returns the serial that follows every committed serial seen.
func (fs *FS) nextSerial() (uint32, error) {
	if fs.maxSerial == math.MaxUint32 {
		return 0, ErrSerialExhausted
	}
	return fs.maxSerial + 1, nil
}

// format erases every block and writes a fresh header into the first
// header block.
func (fs *FS) format() error {
	serial, err := fs.nextSerial()
	if err != nil {
		return err
	}

	fs.valid = false

	for _, blk := range append(append([]*flashblk.Block(nil), fs.header...), fs.data...) {
		if err := blk.Erase(); err != nil {
			return err
		}
	}

	if err := writeHeader(fs.header[0], serial, 0); err != nil {
		return err
	}

	fs.log.WithField("serial", serial).Info("logfs: formatted")
	fs.stats.Formats++
	fs.needsOpt = false

	return fs.load(0, fsHeader{headerHead: headerHead{MagicStart: magicStart, Serial: serial}, MagicEnd: magicEnd})
}

// Format erases the whole region and starts an empty filesystem with a
// serial above every committed serial seen so far. It also recovers a
// filesystem whose mount failed.
func (fs *FS) Format() error {
	return fs.format()
}

// Valid reports whether the filesystem is mounted.
func (fs *FS) Valid() bool {
	return fs.valid
}

// NeedsOptimization reports whether a worst case write may no longer fit.
// Once set it stays set until Optimize succeeds.
func (fs *FS) NeedsOptimization() bool {
	return fs.needsOpt
}

// Serial returns the serial of the active generation.
func (fs *FS) Serial() uint32 {
	return fs.serial
}

// checkCapacity sets the optimization flag when a new file of the maximum
// size would not fit.
func (fs *FS) checkCapacity() {
	if fs.needsOpt {
		return
	}

	if fs.hlog.free() < 2 || !fs.dlog.fits(int(fs.cfg.MaxFileSize)) {
		fs.needsOpt = true
		fs.log.WithFields(logrus.Fields{
			"serial":      fs.serial,
			"header_free": fs.hlog.free(),
			"data_free":   fs.dlog.blockSize() - fs.dlog.cursor,
		}).Info("logfs: optimization needed")
	}
}

// FileExist reports whether name refers to a live file.
func (fs *FS) FileExist(name string) bool {
	if !fs.valid {
		return false
	}

	name, err := cleanName(name)
	if err != nil {
		return false
	}

	_, ok := fs.table.lookup(name)
	return ok
}

// Stat returns the current version of name.
func (fs *FS) Stat(name string) (flashfs.FileInfo, error) {
	if !fs.valid {
		return flashfs.FileInfo{}, ErrNotMounted
	}

	name, err := cleanName(name)
	if err != nil {
		return flashfs.FileInfo{}, err
	}

	e, ok := fs.table.lookup(name)
	if !ok {
		return flashfs.FileInfo{}, errors.Wrap(ErrNotFound, name)
	}

	return e.info(), nil
}

// Files lists the live files ordered by id.
func (fs *FS) Files() []flashfs.FileInfo {
	if !fs.valid {
		return nil
	}

	var infos []flashfs.FileInfo
	for _, e := range fs.table.live() {
		infos = append(infos, e.info())
	}
	return infos
}

// WriteFile stores data as the new version of name. Capacity is checked
// before anything is written; on ErrHeaderFull or ErrDataFull nothing has
// changed and the write can be retried after Optimize.
func (fs *FS) WriteFile(name string, data []byte) error {
	if !fs.valid {
		return ErrNotMounted
	}

	name, err := cleanName(name)
	if err != nil {
		return err
	}

	if len(data) > int(fs.cfg.MaxFileSize) {
		return errors.Wrapf(ErrFileTooLarge, "%q: %d bytes, at most %d", name, len(data), fs.cfg.MaxFileSize)
	}

	e, bound := fs.table.binding(name)

	records := 1
	if !bound {
		records = 2
	}

	if fs.hlog.free() < records {
		fs.needsOpt = true
		return errors.Wrapf(ErrHeaderFull, "write %q", name)
	}

	if !fs.dlog.fits(len(data)) {
		fs.needsOpt = true
		return errors.Wrapf(ErrDataFull, "write %q: %d bytes", name, len(data))
	}

	var id flashfs.FileID
	if bound {
		id = e.id
	} else {
		id, err = fs.table.nextID()
		if err != nil {
			fs.needsOpt = true
			return err
		}

		if err := fs.appendRecord(Record{State: StateIdentity, ID: id, Name: name}); err != nil {
			return err
		}
	}

	addr, err := fs.dlog.append(data)
	if err != nil {
		return err
	}

	if err := fs.appendRecord(Record{State: StateVersion, ID: id, Addr: addr, Size: uint32(len(data))}); err != nil {
		return err
	}

	fs.stats.Writes++
	fs.log.WithFields(logrus.Fields{
		"file": name,
		"id":   id,
		"addr": addr,
		"size": len(data),
	}).Debug("logfs: file written")

	fs.checkCapacity()
	return nil
}

// appendRecord appends r to the header log and applies it to the table.
func (fs *FS) appendRecord(r Record) error {
	if err := fs.hlog.append(r); err != nil {
		return err
	}
	return fs.table.apply(r)
}

// ReadFile returns the contents of the current version of name.
func (fs *FS) ReadFile(name string) ([]byte, error) {
	if !fs.valid {
		return nil, ErrNotMounted
	}

	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	e, ok := fs.table.lookup(name)
	if !ok {
		return nil, errors.Wrap(ErrNotFound, name)
	}

	return fs.dlog.read(e.addr, e.size)
}

// DeleteFile appends a tombstone for name. The space is reclaimed by the
// next Optimize.
func (fs *FS) DeleteFile(name string) error {
	if !fs.valid {
		return ErrNotMounted
	}

	name, err := cleanName(name)
	if err != nil {
		return err
	}

	e, ok := fs.table.lookup(name)
	if !ok {
		return errors.Wrap(ErrNotFound, name)
	}

	if fs.hlog.free() < 1 {
		fs.needsOpt = true
		return errors.Wrapf(ErrHeaderFull, "delete %q", name)
	}

	if err := fs.appendRecord(Record{State: StateTombstone, ID: e.id}); err != nil {
		return err
	}

	fs.stats.Deletes++
	fs.log.WithFields(logrus.Fields{
		"file": name,
		"id":   e.id,
	}).Debug("logfs: file deleted")

	fs.checkCapacity()
	return nil
}

// Usage reports the fill level of the active generation.
func (fs *FS) Usage() Usage {
	if !fs.valid {
		return Usage{}
	}

	u := Usage{
		HeaderSlots: fs.hlog.slots(),
		HeaderFree:  fs.hlog.free(),
		DataBlocks:  fs.dlog.used,
		DataSpare:   fs.dlog.spare(),
		DataFree:    fs.dlog.blockSize() - fs.dlog.cursor,
	}

	for _, e := range fs.table.live() {
		u.Files++
		u.FileBytes += int(e.size)
	}

	return u
}

// Stats returns the operation counters.
func (fs *FS) Stats() Stats {
	return fs.stats
}

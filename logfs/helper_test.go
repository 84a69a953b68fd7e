package logfs

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/keks/flashfs"
	"github.com/keks/flashfs/flashblk"
	"github.com/keks/flashfs/flashdev"
)

const testSectorSize = 2048

var (
	stdHeader = []byte{0x55, 0xaa, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xaa, 0x55}
	stdData   = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}
)

func ids(v ...flashfs.BlockID) []flashfs.BlockID { return v }

func testConfig(dev flashfs.Device, sectorSize uint32) (Config, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return Config{
		Layout: flashblk.Layout{
			SectorSize:   sectorSize,
			HeaderBlocks: ids(0, 1),
			DataBlocks:   ids(2, 3, 4),
		},
		Device: dev,
		Logger: logger,
	}, hook
}

// newTestFS mounts a filesystem with the firmware layout on a device whose
// memory initially holds fill.
func newTestFS(t *testing.T, fill byte) (*FS, *flashdev.Mem) {
	mem := flashdev.NewMem(testSectorSize, 10)
	mem.Fill(fill)

	cfg, _ := testConfig(mem, testSectorSize)
	fs, err := New(cfg)
	require.NoError(t, err)
	return fs, mem
}

// newSmallFS uses 256 byte sectors and 64 byte files so that the blocks
// fill up quickly.
func newSmallFS(t *testing.T) (*FS, *flashdev.Mem, Config) {
	mem := flashdev.NewMem(256, 5)
	cfg, _ := testConfig(mem, 256)
	cfg.MaxFileSize = 64

	fs, err := New(cfg)
	require.NoError(t, err)
	return fs, mem, cfg
}

func remount(t *testing.T, cfg Config) *FS {
	fs, err := New(cfg)
	require.NoError(t, err)
	require.True(t, fs.Valid())
	return fs
}

func sector(mem *flashdev.Mem, sectorSize int, b int) []byte {
	return mem.Bytes()[b*sectorSize : (b+1)*sectorSize]
}

func requireErased(t *testing.T, data []byte) {
	t.Helper()
	require.True(t, bytes.Equal(data, bytes.Repeat([]byte{flashfs.Erased}, len(data))), "expected erased memory")
}

// snapshot reads every live file.
func snapshot(t *testing.T, fs *FS) map[string][]byte {
	t.Helper()
	files := make(map[string][]byte)
	for _, fi := range fs.Files() {
		data, err := fs.ReadFile(fi.Name)
		require.NoError(t, err)
		files[fi.Name] = data
	}
	return files
}

package logfs

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/keks/flashfs"
	"github.com/keks/flashfs/flashdev"
)

func TestOptimize(t *testing.T) {
	fs, mem := newTestFS(t, 0xff)
	cfg, _ := testConfig(mem, testSectorSize)

	require.NoError(t, fs.WriteFile("a", []byte("first a")))
	require.NoError(t, fs.WriteFile("b", []byte("b")))
	require.NoError(t, fs.WriteFile("c", []byte("c")))
	require.NoError(t, fs.WriteFile("a", []byte("second a")))
	require.NoError(t, fs.DeleteFile("b"))

	before := snapshot(t, fs)
	require.NoError(t, fs.Optimize())

	require.Equal(t, uint32(2), fs.Serial())
	require.False(t, fs.NeedsOptimization())
	require.Equal(t, before, snapshot(t, fs))
	require.Equal(t, uint64(1), fs.Stats().Compactions)

	// the new generation lives in header block 1 and data block 3
	require.Equal(t, []byte{0x55, 0xaa, 2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0xaa, 0x55}, sector(mem, testSectorSize, 1)[:16])
	requireErased(t, sector(mem, testSectorSize, 0))
	requireErased(t, sector(mem, testSectorSize, 2))

	// only live files are copied, renumbered in id order
	require.Equal(t, []flashfs.FileInfo{
		{Name: "a", ID: 1, Addr: 3 * testSectorSize, Size: 8},
		{Name: "c", ID: 2, Addr: 3*testSectorSize + 8, Size: 1},
	}, fs.Files())
	require.Equal(t, []byte("second ac"), sector(mem, testSectorSize, 3)[:9])
	require.Equal(t, 4, fs.Usage().HeaderSlots-fs.Usage().HeaderFree)

	fs = remount(t, cfg)
	require.Equal(t, uint32(2), fs.Serial())
	require.Equal(t, before, snapshot(t, fs))

	// new ids continue after the renumbered ones
	require.NoError(t, fs.WriteFile("d", []byte("d")))
	fi, err := fs.Stat("d")
	require.NoError(t, err)
	require.Equal(t, flashfs.FileID(3), fi.ID)
}

func TestOptimizeRotation(t *testing.T) {
	fs, mem := newTestFS(t, 0xff)
	cfg, _ := testConfig(mem, testSectorSize)

	type gen struct {
		header flashfs.BlockID
		data   flashfs.BlockID
	}

	exp := []gen{{1, 3}, {0, 4}, {1, 2}, {0, 3}}
	for i, g := range exp {
		name := fmt.Sprintf("gen%d", i)
		require.NoError(t, fs.WriteFile(name, []byte(name)))
		require.NoError(t, fs.Optimize())

		fs = remount(t, cfg)
		require.Equal(t, uint32(i+2), fs.Serial())

		hdr := sector(mem, testSectorSize, int(g.header))
		require.Equal(t, byte(i+2), hdr[2], "serial of generation %d", i)
		require.Equal(t, byte(g.data-2), hdr[6], "data start of generation %d", i)

		for j := 0; j <= i; j++ {
			name := fmt.Sprintf("gen%d", j)
			data, err := fs.ReadFile(name)
			require.NoError(t, err)
			require.Equal(t, []byte(name), data)
		}
	}

	// every block took part in the rotation
	for b := flashfs.BlockID(0); b < 5; b++ {
		require.NotZero(t, mem.EraseCount(b), "block %d", b)
	}
}

func TestCapacityHeader(t *testing.T) {
	fs, _, cfg := newSmallFS(t)

	// 15 slots: the first write takes two, every rewrite one
	for w := 1; w <= 13; w++ {
		require.False(t, fs.NeedsOptimization(), "before write %d", w)
		require.NoError(t, fs.WriteFile("f", []byte{byte(w)}))
	}
	require.True(t, fs.NeedsOptimization())
	require.Equal(t, 1, fs.Usage().HeaderFree)

	// still room for a rewrite, and the flag stays set
	require.NoError(t, fs.WriteFile("f", []byte{14}))
	require.True(t, fs.NeedsOptimization())

	err := fs.WriteFile("f", []byte{15})
	require.True(t, errors.Is(err, ErrHeaderFull), "got %v", err)
	err = fs.WriteFile("g", []byte{1})
	require.True(t, errors.Is(err, ErrHeaderFull), "got %v", err)
	err = fs.DeleteFile("f")
	require.True(t, errors.Is(err, ErrHeaderFull), "got %v", err)

	// a failed write changed nothing
	data, err := fs.ReadFile("f")
	require.NoError(t, err)
	require.Equal(t, []byte{14}, data)

	fs = remount(t, cfg)
	require.True(t, fs.NeedsOptimization())

	require.NoError(t, fs.Optimize())
	require.False(t, fs.NeedsOptimization())
	require.Equal(t, 13, fs.Usage().HeaderFree)

	require.NoError(t, fs.WriteFile("f", []byte{15}))
	data, err = fs.ReadFile("f")
	require.NoError(t, err)
	require.Equal(t, []byte{15}, data)
}

func TestCapacityData(t *testing.T) {
	fs, _, _ := newSmallFS(t)

	payload := func(w int) []byte { return bytes.Repeat([]byte{byte(w)}, 64) }

	// two data blocks of four payloads each belong to the generation, the
	// third is kept free for compaction
	for w := 1; w <= 8; w++ {
		require.False(t, fs.NeedsOptimization(), "before write %d", w)
		require.NoError(t, fs.WriteFile("f", payload(w)))
	}
	require.True(t, fs.NeedsOptimization())

	err := fs.WriteFile("f", payload(9))
	require.True(t, errors.Is(err, ErrDataFull), "got %v", err)

	// smaller payloads are not affected by the flag
	require.NoError(t, fs.WriteFile("empty", nil))

	require.NoError(t, fs.Optimize())
	require.False(t, fs.NeedsOptimization())

	fi, err := fs.Stat("f")
	require.NoError(t, err)
	require.Equal(t, uint32(4*256), fi.Addr)

	data, err := fs.ReadFile("f")
	require.NoError(t, err)
	require.Equal(t, payload(8), data)

	require.NoError(t, fs.WriteFile("f", payload(9)))
	data, err = fs.ReadFile("f")
	require.NoError(t, err)
	require.Equal(t, payload(9), data)
}

// optimizeWrites counts the device writes a complete Optimize performs.
func optimizeWrites(t *testing.T, mem *flashdev.Mem) int {
	dry := mem.Clone()
	cfg, _ := testConfig(dry, testSectorSize)

	fs := remount(t, cfg)
	before := dry.Counters().Writes
	require.NoError(t, fs.Optimize())
	return dry.Counters().Writes - before
}

func TestOptimizePowerCut(t *testing.T) {
	fs, base := newTestFS(t, 0xff)

	require.NoError(t, fs.WriteFile("pubkey", bytes.Repeat([]byte{0x11}, 100)))
	require.NoError(t, fs.WriteFile("cert", bytes.Repeat([]byte{0x22}, 300)))
	require.NoError(t, fs.WriteFile("pin", []byte("123456")))
	require.NoError(t, fs.WriteFile("pubkey", bytes.Repeat([]byte{0x33}, 100)))
	require.NoError(t, fs.DeleteFile("pin"))

	want := snapshot(t, fs)
	total := optimizeWrites(t, base)

	// two payloads, four records of two writes each, two header writes
	require.Equal(t, 2+8+2, total)

	for cut := 0; cut < total; cut++ {
		for _, torn := range []int{0, 1} {
			t.Run(fmt.Sprintf("cut %d torn %d", cut, torn), func(t *testing.T) {
				mem := base.Clone()
				cfg, _ := testConfig(mem, testSectorSize)
				fs := remount(t, cfg)

				mem.PowerCut(cut, torn)
				err := fs.Optimize()
				require.True(t, errors.Is(err, flashdev.ErrPowerLoss), "got %v", err)
				mem.Restore()

				// the old generation is still authoritative
				fs = remount(t, cfg)
				require.Equal(t, uint32(1), fs.Serial())
				require.Equal(t, want, snapshot(t, fs))

				// and optimizing again completes
				require.NoError(t, fs.Optimize())
				require.Equal(t, uint32(2), fs.Serial())
				require.Equal(t, want, snapshot(t, fs))

				fs = remount(t, cfg)
				require.Equal(t, uint32(2), fs.Serial())
				require.Equal(t, want, snapshot(t, fs))
			})
		}
	}
}

func TestOptimizeRetiresStaleGeneration(t *testing.T) {
	fs, mem := newTestFS(t, 0xff)
	cfg, hook := testConfig(mem, testSectorSize)

	require.NoError(t, fs.WriteFile("testfile", stdData))
	old := append([]byte(nil), sector(mem, testSectorSize, 0)...)
	oldData := append([]byte(nil), sector(mem, testSectorSize, 2)...)

	require.NoError(t, fs.Optimize())

	// power was lost after the commit, before the old blocks were erased
	copy(sector(mem, testSectorSize, 0), old)
	copy(sector(mem, testSectorSize, 2), oldData)

	fs = remount(t, cfg)
	require.Equal(t, uint32(2), fs.Serial())
	require.Equal(t, "logfs: retiring stale header block", hook.LastEntry().Message)
	requireErased(t, sector(mem, testSectorSize, 0))

	data, err := fs.ReadFile("testfile")
	require.NoError(t, err)
	require.Equal(t, stdData, data)

	// the stale data block is erased before the next generation uses it
	require.NoError(t, fs.Optimize())
	require.NoError(t, fs.Optimize())
	require.Equal(t, uint32(4), fs.Serial())
	require.Equal(t, stdData, sector(mem, testSectorSize, 2)[:len(stdData)])
	requireErased(t, sector(mem, testSectorSize, 2)[len(stdData):])
}

func TestOptimizeEmpty(t *testing.T) {
	fs, mem := newTestFS(t, 0xff)

	require.NoError(t, fs.WriteFile("gone", stdData))
	require.NoError(t, fs.DeleteFile("gone"))
	require.NoError(t, fs.Optimize())

	require.Empty(t, fs.Files())
	require.Equal(t, fs.Usage().HeaderSlots, fs.Usage().HeaderFree)
	requireErased(t, sector(mem, testSectorSize, 1)[HeaderSize:])
	requireErased(t, sector(mem, testSectorSize, 3))
}

func TestBaseAddress(t *testing.T) {
	const (
		sectorSize = 256
		base       = 5 * sectorSize
	)

	// the controller memory holds foreign data in front of the region
	mem := flashdev.NewMem(sectorSize, 10)
	mem.Fill(0)

	dev := flashdev.Funcs{
		Base: base,
		Erase: func(b flashfs.BlockID) bool {
			return mem.EraseBlock(b+base/sectorSize) == nil
		},
		Write: func(addr uint32, data []byte) bool {
			_, err := mem.WriteAt(data, int64(addr))
			return err == nil
		},
		Read: func(addr uint32, n int) []byte {
			buf := make([]byte, n)
			if _, err := mem.ReadAt(buf, int64(addr)); err != nil {
				return nil
			}
			return buf
		},
	}

	cfg, _ := testConfig(dev, sectorSize)
	cfg.Layout.BaseAddress = base
	cfg.MaxFileSize = 64

	fs := remount(t, cfg)
	require.Equal(t, stdHeader, mem.Bytes()[base:base+HeaderSize])

	// four payloads fill a data block, the most a compaction can copy here
	want := make(map[string][]byte)
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("gen%d", i)
		data := bytes.Repeat([]byte{byte(i + 1)}, 64)
		require.NoError(t, fs.WriteFile(name, data))
		want[name] = data

		require.NoError(t, fs.Optimize())

		fs = remount(t, cfg)
		require.Equal(t, uint32(i+2), fs.Serial())
		require.Equal(t, want, snapshot(t, fs))
	}

	// payload addresses are region offsets
	for _, fi := range fs.Files() {
		require.Less(t, fi.Addr, uint32(5*sectorSize), fi.Name)
	}

	require.Equal(t, make([]byte, base), mem.Bytes()[:base])
}

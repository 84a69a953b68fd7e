package flashblk

import (
	"io"

	"github.com/pkg/errors"

	"github.com/keks/flashfs"
)

// Block is a view of one physical erase unit. Offsets passed to ReadAt and
// WriteAt are relative to the start of the block.
type Block struct {
	id   flashfs.BlockID
	addr uint32 // offset of the block in the region
	size int

	lower flashfs.Device
}

func newBlock(dev flashfs.Device, sectorSize uint32, id flashfs.BlockID) *Block {
	return &Block{
		id:    id,
		addr:  uint32(id) * sectorSize,
		size:  int(sectorSize),
		lower: dev,
	}
}

// ID returns the physical block index.
func (blk *Block) ID() flashfs.BlockID { return blk.id }

// Addr returns the offset of the first byte of the block in the region.
func (blk *Block) Addr() uint32 { return blk.addr }

// Size returns the block size in bytes.
func (blk *Block) Size() int { return blk.size }

// Contains reports whether the range [addr, addr+n) lies within the block.
// A zero-length range must start inside the block.
func (blk *Block) Contains(addr, n uint32) bool {
	if addr < blk.addr || addr >= blk.addr+uint32(blk.size) {
		return false
	}
	return uint64(addr)+uint64(n) <= uint64(blk.addr)+uint64(blk.size)
}

func (blk *Block) ReadAt(dst []byte, off int64) (int, error) {
	if off >= int64(blk.size) {
		return 0, io.EOF
	}

	room := blk.size - int(off)
	clipped := room < len(dst)
	if clipped {
		dst = dst[:room]
	}

	n, err := blk.lower.ReadAt(dst, int64(blk.addr)+off)
	if err != nil {
		return n, errors.Wrapf(err, "read block %d at 0x%x", blk.id, off)
	}

	if clipped {
		return n, io.EOF
	}

	return n, nil
}

func (blk *Block) WriteAt(data []byte, off int64) (int, error) {
	if off >= int64(blk.size) {
		return 0, io.EOF
	}

	room := blk.size - int(off)
	clipped := room < len(data)
	if clipped {
		data = data[:room]
	}

	n, err := blk.lower.WriteAt(data, int64(blk.addr)+off)
	if err != nil {
		return n, errors.Wrapf(err, "write block %d at 0x%x", blk.id, off)
	}

	// a write that crosses the block end is truncated, never carried over
	if clipped {
		return n, io.EOF
	}

	return n, nil
}

// Erase resets the whole block to flashfs.Erased.
func (blk *Block) Erase() error {
	return errors.Wrapf(blk.lower.EraseBlock(blk.id), "erase block %d", blk.id)
}

// Bytes reads the whole block.
func (blk *Block) Bytes() ([]byte, error) {
	buf := make([]byte, blk.size)
	_, err := blk.ReadAt(buf, 0)
	return buf, err
}

// Used returns the offset just past the last byte that is not erased, or 0
// for a blank block.
func (blk *Block) Used() (int, error) {
	buf, err := blk.Bytes()
	if err != nil {
		return 0, err
	}

	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] != flashfs.Erased {
			return i + 1, nil
		}
	}

	return 0, nil
}

// EnsureErased erases the block unless it is already blank. Skipping blank
// blocks saves erase cycles.
func (blk *Block) EnsureErased() error {
	used, err := blk.Used()
	if err != nil {
		return err
	}
	if used == 0 {
		return nil
	}
	return blk.Erase()
}

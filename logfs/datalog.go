package logfs

import (
	"github.com/pkg/errors"

	"github.com/keks/flashfs/flashblk"
)

// dataLog is the payload stream of one generation. It occupies a run of
// data blocks in rotation order, starting at start. Payloads never cross a
// block boundary.
type dataLog struct {
	blocks []*flashblk.Block

	start int
	used  int // blocks taken by this generation, at least 1
	limit int // blocks this generation may take

	cursor int // write offset in the current block
}

func newDataLog(blocks []*flashblk.Block, start, limit int) *dataLog {
	return &dataLog{
		blocks: blocks,
		start:  start,
		used:   1,
		limit:  limit,
	}
}

// index maps a position in the run to an index into the data group.
func (dl *dataLog) index(i int) int {
	return (dl.start + i) % len(dl.blocks)
}

func (dl *dataLog) block(i int) *flashblk.Block {
	return dl.blocks[dl.index(i)]
}

func (dl *dataLog) current() *flashblk.Block {
	return dl.block(dl.used - 1)
}

// owns returns the run position of the block holding [addr, addr+size), if
// that block may belong to this generation.
func (dl *dataLog) owns(addr, size uint32) (int, bool) {
	for i := 0; i < dl.limit; i++ {
		if dl.block(i).Contains(addr, size) {
			return i, true
		}
	}
	return 0, false
}

// restore sets the run length and cursor after a replay. end is the largest
// payload end offset referenced in the last block of the run. Bytes
// programmed past it belong to payloads whose version record never landed;
// the cursor skips them.
func (dl *dataLog) restore(used, end int) error {
	dl.used = used

	programmed, err := dl.current().Used()
	if err != nil {
		return err
	}

	dl.cursor = end
	if programmed > dl.cursor {
		dl.cursor = programmed
	}

	return nil
}

func (dl *dataLog) blockSize() int {
	return dl.current().Size()
}

// fits reports whether a payload of n bytes can be appended.
func (dl *dataLog) fits(n int) bool {
	if dl.cursor+n <= dl.blockSize() {
		return true
	}
	return dl.used < dl.limit && n <= dl.blockSize()
}

// spare is the number of blocks the run may still grow by.
func (dl *dataLog) spare() int {
	return dl.limit - dl.used
}

func (dl *dataLog) append(data []byte) (uint32, error) {
	if !dl.fits(len(data)) {
		return 0, errors.Wrapf(ErrDataFull, "%d bytes", len(data))
	}

	if dl.cursor+len(data) > dl.blockSize() {
		next := dl.block(dl.used)

		// leftovers of an interrupted compaction or write
		if err := next.EnsureErased(); err != nil {
			return 0, err
		}

		dl.used++
		dl.cursor = 0
	}

	blk := dl.current()
	if len(data) == 0 {
		// any address inside the block will do
		if dl.cursor >= blk.Size() {
			return blk.Addr(), nil
		}
		return blk.Addr() + uint32(dl.cursor), nil
	}

	off := dl.cursor

	// skip the whole range even if the write fails part way
	dl.cursor += len(data)
	if _, err := blk.WriteAt(data, int64(off)); err != nil {
		return 0, err
	}

	return blk.Addr() + uint32(off), nil
}

func (dl *dataLog) read(addr, size uint32) ([]byte, error) {
	i, ok := dl.owns(addr, size)
	if !ok || i >= dl.used {
		return nil, errors.Wrapf(ErrCorrupt, "payload 0x%x+%d outside the data log", addr, size)
	}

	blk := dl.block(i)
	buf := make([]byte, size)
	if _, err := blk.ReadAt(buf, int64(addr-blk.Addr())); err != nil {
		return nil, err
	}

	return buf, nil
}

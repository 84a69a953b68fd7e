package logfs

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/keks/flashfs"
	"github.com/keks/flashfs/flashblk"
)

var blankBody = bytes.Repeat([]byte{flashfs.Erased}, RecordSize-1)

// headerLog is the append-only record log following the filesystem header.
type headerLog struct {
	blk    *flashblk.Block
	cursor int

	// torn counts slots that were started but never committed
	torn int
}

func newHeaderLog(blk *flashblk.Block) *headerLog {
	return &headerLog{blk: blk, cursor: HeaderSize}
}

// scanRecords walks the slots of a header block image in log order and
// calls fn for every committed record. It returns the offset of the first
// free slot and the number of torn slots it skipped.
func scanRecords(buf []byte, fn func(Record) error) (cursor, torn int, err error) {
	for off := HeaderSize; off+RecordSize <= len(buf); off += RecordSize {
		slot := buf[off : off+RecordSize]

		switch State(slot[0]) {
		case StateEmpty:
			if bytes.Equal(slot[1:], blankBody) {
				return off, torn, nil
			}
			torn++
			continue
		case StateZeroed:
			// nothing can be programmed over a zeroed slot, so the log ends
			// here and the block is treated as full
			return len(buf), torn, nil
		}

		r, err := decodeRecord(slot)
		if err != nil {
			return off, torn, errors.Wrapf(err, "slot at 0x%x", off)
		}

		if err := fn(r); err != nil {
			return off, torn, errors.Wrapf(err, "slot at 0x%x", off)
		}
	}

	return len(buf) - len(buf)%RecordSize, torn, nil
}

// replay calls fn for each committed record and positions the cursor after
// the last used slot.
func (hl *headerLog) replay(fn func(Record) error) error {
	buf, err := hl.blk.Bytes()
	if err != nil {
		return err
	}

	cursor, torn, err := scanRecords(buf, fn)
	if err != nil {
		return err
	}

	hl.cursor, hl.torn = cursor, torn
	return nil
}

// append writes r into the next slot: the body first, then the state byte.
func (hl *headerLog) append(r Record) error {
	if hl.cursor+RecordSize > hl.blk.Size() {
		return errors.Wrapf(ErrHeaderFull, "block %d", hl.blk.ID())
	}

	buf := r.encode()
	off := int64(hl.cursor)

	// a failed write leaves the slot dirty, never reuse it
	hl.cursor += RecordSize

	if _, err := hl.blk.WriteAt(buf[1:], off+1); err != nil {
		return err
	}

	_, err := hl.blk.WriteAt(buf[:1], off)
	return err
}

func (hl *headerLog) slots() int {
	return (hl.blk.Size() - HeaderSize) / RecordSize
}

func (hl *headerLog) free() int {
	return (hl.blk.Size() - hl.cursor) / RecordSize
}

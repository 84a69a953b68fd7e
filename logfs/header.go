package logfs

import (
	"encoding/binary"

	"github.com/keks/flashfs/flashblk"
)

// HeaderSize is the size of the filesystem header at the start of a header
// block.
const HeaderSize = 16

var (
	magicStart = [2]byte{0x55, 0xaa}
	magicEnd   = [2]byte{0xaa, 0x55}
)

// fsHeader is the on-flash filesystem header:
//
//	0  magic start  55 aa
//	2  serial       uint32
//	6  data start   uint8, index into the data group
//	7  reserved     7 bytes, zero
//	14 magic end    aa 55
type fsHeader struct {
	headerHead
	MagicEnd [2]byte
}

// headerHead is everything but the commit marker.
type headerHead struct {
	MagicStart [2]byte
	Serial     uint32
	DataStart  uint8
	Reserved   [7]byte
}

type headerState int

const (
	headerInvalid headerState = iota
	headerTorn
	headerValid
)

func (h fsHeader) state() headerState {
	switch {
	case h.MagicStart != magicStart:
		return headerInvalid
	case h.MagicEnd != magicEnd:
		return headerTorn
	default:
		return headerValid
	}
}

func readHeader(blk *flashblk.Block) (fsHeader, error) {
	var h fsHeader
	err := binary.Read(flashblk.ReaderAt(blk, 0), binary.LittleEndian, &h)
	return h, err
}

// writeHeader writes the header in two steps. The magic end is written last
// and commits the block.
func writeHeader(blk *flashblk.Block, serial uint32, dataStart uint8) error {
	head := headerHead{
		MagicStart: magicStart,
		Serial:     serial,
		DataStart:  dataStart,
	}

	err := binary.Write(flashblk.WriterAt(blk, 0), binary.LittleEndian, head)
	if err != nil {
		return err
	}

	_, err = blk.WriteAt(magicEnd[:], int64(HeaderSize-len(magicEnd)))
	return err
}

package flashdev

import (
	"io"

	"github.com/pkg/errors"

	"github.com/keks/flashfs"
)

var (
	// ErrIO is returned when a flash primitive reports failure.
	ErrIO = errors.New("flashdev: flash operation failed")

	// ErrPowerLoss is returned by a Mem device after a simulated power cut.
	ErrPowerLoss = errors.New("flashdev: power lost")
)

// Counters counts the operations a device has served.
type Counters struct {
	Reads  int
	Writes int
	Erases int
}

// Mem is a NOR flash simulation backed by a byte slice. Erasing sets every
// byte of a block to flashfs.Erased; writing can only clear bits, so a write
// over programmed bytes stores the AND of old and new contents.
type Mem struct {
	sectorSize uint32
	memory     []byte
	wear       []int

	cnt Counters

	// power cut injection
	armed    bool
	budget   int
	torn     int
	powerOff bool
}

// NewMem returns an erased device of blocks sectors of sectorSize bytes.
func NewMem(sectorSize uint32, blocks int) *Mem {
	m := &Mem{
		sectorSize: sectorSize,
		memory:     make([]byte, int(sectorSize)*blocks),
		wear:       make([]int, blocks),
	}
	m.Fill(flashfs.Erased)
	return m
}

// Fill sets every byte of the device to v, bypassing flash semantics. It
// stands in for whatever the memory held before the device was first used.
func (m *Mem) Fill(v byte) {
	for i := range m.memory {
		m.memory[i] = v
	}
}

// Bytes exposes the raw contents of the device.
func (m *Mem) Bytes() []byte {
	return m.memory
}

// Clone returns an independent copy of the device with power restored and
// counters reset.
func (m *Mem) Clone() *Mem {
	c := &Mem{
		sectorSize: m.sectorSize,
		memory:     append([]byte(nil), m.memory...),
		wear:       append([]int(nil), m.wear...),
	}
	return c
}

// Counters returns the number of operations served so far.
func (m *Mem) Counters() Counters {
	return m.cnt
}

// EraseCount returns how often block b has been erased.
func (m *Mem) EraseCount(b flashfs.BlockID) int {
	if int(b) >= len(m.wear) {
		return 0
	}
	return m.wear[b]
}

// PowerCut arms a power failure: after writes more successful WriteAt calls,
// the next one programs only its first torn bytes and fails with
// ErrPowerLoss. From then on every call fails until Restore.
func (m *Mem) PowerCut(writes, torn int) {
	m.armed = true
	m.budget = writes
	m.torn = torn
}

// Restore brings power back and disarms any pending power cut.
func (m *Mem) Restore() {
	m.armed = false
	m.powerOff = false
}

func (m *Mem) EraseBlock(b flashfs.BlockID) error {
	if m.powerOff {
		return ErrPowerLoss
	}

	start := int(b) * int(m.sectorSize)
	if int(b) >= len(m.wear) {
		return errors.Wrapf(ErrIO, "erase block %d: out of range", b)
	}

	blk := m.memory[start : start+int(m.sectorSize)]
	for i := range blk {
		blk[i] = flashfs.Erased
	}

	m.wear[b]++
	m.cnt.Erases++
	return nil
}

func (m *Mem) ReadAt(buf []byte, off int64) (int, error) {
	if m.powerOff {
		return 0, ErrPowerLoss
	}

	if off < 0 || off >= int64(len(m.memory)) {
		return 0, io.EOF
	}

	m.cnt.Reads++
	n := copy(buf, m.memory[off:])
	if n < len(buf) {
		return n, io.EOF
	}

	return n, nil
}

func (m *Mem) WriteAt(data []byte, off int64) (int, error) {
	if m.powerOff {
		return 0, ErrPowerLoss
	}

	if off < 0 || off+int64(len(data)) > int64(len(m.memory)) {
		return 0, errors.Wrapf(ErrIO, "write 0x%x+%d: out of range", off, len(data))
	}

	if m.armed {
		if m.budget == 0 {
			n := m.torn
			if n > len(data) {
				n = len(data)
			}
			m.program(data[:n], off)
			m.powerOff = true
			m.armed = false
			return n, ErrPowerLoss
		}
		m.budget--
	}

	m.program(data, off)
	m.cnt.Writes++
	return len(data), nil
}

func (m *Mem) program(data []byte, off int64) {
	dst := m.memory[off : off+int64(len(data))]
	for i, b := range data {
		dst[i] &= b
	}
}

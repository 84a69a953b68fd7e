package flashdev

import (
	"github.com/pkg/errors"

	"github.com/keks/flashfs"
)

// Funcs adapts the three primitives a host firmware supplies for its flash
// controller to a flashfs.Device. Read and Write receive controller
// addresses, that is Base plus the offset in the region. Erase receives the
// block number within the region. A false or short result is reported as
// ErrIO; the call is never retried.
type Funcs struct {
	Base uint32

	Erase func(block flashfs.BlockID) bool
	Write func(address uint32, data []byte) bool
	Read  func(address uint32, length int) []byte
}

var _ flashfs.Device = Funcs{}

// address maps a region offset to a controller address.
func (fn Funcs) address(off int64, n int) (uint32, error) {
	addr := int64(fn.Base) + off
	if off < 0 || addr+int64(n) > 1<<32 {
		return 0, errors.Wrapf(ErrIO, "0x%x+%d lies beyond the 32 bit address space", addr, n)
	}
	return uint32(addr), nil
}

func (fn Funcs) EraseBlock(b flashfs.BlockID) error {
	if !fn.Erase(b) {
		return errors.Wrapf(ErrIO, "erase block %d", b)
	}
	return nil
}

func (fn Funcs) WriteAt(data []byte, off int64) (int, error) {
	addr, err := fn.address(off, len(data))
	if err != nil {
		return 0, err
	}

	if !fn.Write(addr, data) {
		return 0, errors.Wrapf(ErrIO, "write 0x%x+%d", addr, len(data))
	}
	return len(data), nil
}

func (fn Funcs) ReadAt(buf []byte, off int64) (int, error) {
	addr, err := fn.address(off, len(buf))
	if err != nil {
		return 0, err
	}

	data := fn.Read(addr, len(buf))
	if len(data) < len(buf) {
		return copy(buf, data), errors.Wrapf(ErrIO, "read 0x%x+%d", addr, len(buf))
	}
	return copy(buf, data), nil
}

package flashdev

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/keks/flashfs"
)

func TestFuncs(t *testing.T) {
	r := require.New(t)
	mem := NewMem(16, 2)

	var failing bool
	dev := Funcs{
		Erase: func(b flashfs.BlockID) bool {
			return !failing && mem.EraseBlock(b) == nil
		},
		Write: func(addr uint32, data []byte) bool {
			_, err := mem.WriteAt(data, int64(addr))
			return !failing && err == nil
		},
		Read: func(addr uint32, length int) []byte {
			if failing {
				return nil
			}
			buf := make([]byte, length)
			n, _ := mem.ReadAt(buf, int64(addr))
			return buf[:n]
		},
	}

	n, err := dev.WriteAt([]byte("flash"), 20)
	r.NoError(err)
	r.Equal(5, n)

	buf := make([]byte, 5)
	n, err = dev.ReadAt(buf, 20)
	r.NoError(err)
	r.Equal(5, n)
	r.Equal([]byte("flash"), buf)

	// a short read is an error
	n, err = dev.ReadAt(make([]byte, 8), 28)
	r.True(errors.Is(err, ErrIO), "got %v", err)
	r.Equal(4, n)

	r.NoError(dev.EraseBlock(1))
	r.Equal(byte(flashfs.Erased), mem.Bytes()[20])

	failing = true
	r.True(errors.Is(dev.EraseBlock(0), ErrIO))
	_, err = dev.WriteAt([]byte{0}, 0)
	r.True(errors.Is(err, ErrIO))
	_, err = dev.ReadAt(buf, 0)
	r.True(errors.Is(err, ErrIO))
}

func TestFuncsBase(t *testing.T) {
	r := require.New(t)

	// the controller maps a 4 block region behind 2 foreign blocks
	const sector = 16
	mem := NewMem(sector, 6)
	mem.Fill(0)

	var addrs []uint32
	dev := Funcs{
		Base: 2 * sector,
		Erase: func(b flashfs.BlockID) bool {
			return mem.EraseBlock(b+2) == nil
		},
		Write: func(addr uint32, data []byte) bool {
			addrs = append(addrs, addr)
			_, err := mem.WriteAt(data, int64(addr))
			return err == nil
		},
		Read: func(addr uint32, length int) []byte {
			buf := make([]byte, length)
			n, _ := mem.ReadAt(buf, int64(addr))
			return buf[:n]
		},
	}

	r.NoError(dev.EraseBlock(1))
	_, err := dev.WriteAt([]byte{0x42}, sector+3)
	r.NoError(err)
	r.Equal([]uint32{3*sector + 3}, addrs)

	// erase and write land in the same physical block
	r.Equal(byte(0x42), mem.Bytes()[3*sector+3])
	r.Equal(byte(flashfs.Erased), mem.Bytes()[3*sector])
	r.Equal(byte(0), mem.Bytes()[sector+3])

	buf := make([]byte, 1)
	_, err = dev.ReadAt(buf, sector+3)
	r.NoError(err)
	r.Equal([]byte{0x42}, buf)

	// controller addresses are 32 bit
	high := Funcs{
		Base:  0xfffffff0,
		Write: func(uint32, []byte) bool { return true },
		Read:  func(_ uint32, n int) []byte { return make([]byte, n) },
	}
	_, err = high.WriteAt(make([]byte, 16), 0)
	r.NoError(err)
	_, err = high.WriteAt(make([]byte, 17), 0)
	r.True(errors.Is(err, ErrIO), "got %v", err)
	_, err = high.ReadAt(make([]byte, 1), 16)
	r.True(errors.Is(err, ErrIO), "got %v", err)
}

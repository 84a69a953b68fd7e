package flashblk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keks/flashfs"
)

const testSectorSize = 1 << 10

type op interface {
	Do(*testing.T, Layout, flashfs.Device)
}

type blkWriteOp struct {
	id   flashfs.BlockID
	data []byte
	off  int64

	expN   int
	expErr string
}

func (op blkWriteOp) Do(t *testing.T, l Layout, dev flashfs.Device) {
	r := require.New(t)
	n, err := l.Block(dev, op.id).WriteAt(op.data, op.off)

	t.Logf("writeOp, n: %d, err: %v", n, err)

	r.Equal(op.expN, n)
	if op.expErr == "" {
		r.NoError(err)
	} else {
		r.EqualError(err, op.expErr)
	}
}

type blkReadOp struct {
	id      flashfs.BlockID
	off     int64
	readlen int

	exp    []byte
	expN   int
	expErr string
}

func (op blkReadOp) Do(t *testing.T, l Layout, dev flashfs.Device) {
	r := require.New(t)
	if op.readlen == 0 {
		op.readlen = len(op.exp)
	}

	buf := make([]byte, op.readlen)
	n, err := l.Block(dev, op.id).ReadAt(buf, op.off)

	t.Logf("readOp, n: %d, err: %v", n, err)

	if op.expErr == "" {
		r.NoError(err)
	} else {
		r.EqualError(err, op.expErr)
	}
	r.Equal(op.expN, n)
	t.Logf("buffer contents %q | 0x%x", buf[:op.expN], buf[:op.expN])
	r.True(bytes.Equal(buf[:op.expN], op.exp))
}

type blkEraseOp struct {
	id flashfs.BlockID
}

func (op blkEraseOp) Do(t *testing.T, l Layout, dev flashfs.Device) {
	require.NoError(t, l.Block(dev, op.id).Erase())
}

type blkEnsureErasedOp struct {
	id flashfs.BlockID
}

func (op blkEnsureErasedOp) Do(t *testing.T, l Layout, dev flashfs.Device) {
	require.NoError(t, l.Block(dev, op.id).EnsureErased())
}

type blkUsedOp struct {
	id  flashfs.BlockID
	exp int
}

func (op blkUsedOp) Do(t *testing.T, l Layout, dev flashfs.Device) {
	used, err := l.Block(dev, op.id).Used()
	require.NoError(t, err)
	require.Equal(t, op.exp, used, "used bytes of block %d", op.id)
}

func erased(n int) []byte {
	return bytes.Repeat([]byte{flashfs.Erased}, n)
}

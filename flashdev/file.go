package flashdev

import (
	"bytes"
	"os"

	"github.com/pkg/errors"

	"github.com/keks/flashfs"
)

// File is a flash device backed by an image file on the host, one sector
// after the other. Writes overwrite the file contents directly.
type File struct {
	f          *os.File
	sectorSize uint32
	blocks     int
	blank      []byte
}

// Create creates (or truncates) the image at path and fills blocks sectors
// with the erased value.
func Create(path string, sectorSize uint32, blocks int) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create flash image")
	}

	dev := newFile(f, sectorSize, blocks)
	for i := 0; i < blocks; i++ {
		if err := dev.EraseBlock(flashfs.BlockID(i)); err != nil {
			f.Close()
			return nil, err
		}
	}

	return dev, nil
}

// Open opens an existing image. The number of blocks is derived from the
// file size.
func Open(path string, sectorSize uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open flash image")
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat flash image")
	}

	if st.Size()%int64(sectorSize) != 0 {
		f.Close()
		return nil, errors.Errorf("flash image size %d is not a multiple of the sector size %d", st.Size(), sectorSize)
	}

	return newFile(f, sectorSize, int(st.Size()/int64(sectorSize))), nil
}

func newFile(f *os.File, sectorSize uint32, blocks int) *File {
	return &File{
		f:          f,
		sectorSize: sectorSize,
		blocks:     blocks,
		blank:      bytes.Repeat([]byte{flashfs.Erased}, int(sectorSize)),
	}
}

// Blocks returns the number of sectors in the image.
func (d *File) Blocks() int {
	return d.blocks
}

func (d *File) EraseBlock(b flashfs.BlockID) error {
	if int(b) >= d.blocks {
		return errors.Wrapf(ErrIO, "erase block %d: out of range", b)
	}

	_, err := d.f.WriteAt(d.blank, int64(b)*int64(d.sectorSize))
	return errors.Wrapf(err, "erase block %d", b)
}

func (d *File) ReadAt(buf []byte, off int64) (int, error) {
	return d.f.ReadAt(buf, off)
}

func (d *File) WriteAt(data []byte, off int64) (int, error) {
	if off+int64(len(data)) > int64(d.blocks)*int64(d.sectorSize) {
		return 0, errors.Wrapf(ErrIO, "write 0x%x+%d: out of range", off, len(data))
	}
	return d.f.WriteAt(data, off)
}

// Close syncs and closes the image file.
func (d *File) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return errors.Wrap(err, "sync flash image")
	}
	return d.f.Close()
}

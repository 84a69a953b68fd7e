package flashfs // import "github.com/keks/flashfs"

import (
	"io"
)

// Basic Types

// ReadWriterAt is both a ReaderAt and a WriterAt.
type ReadWriterAt interface {
	io.ReaderAt
	io.WriterAt
}

// Erased is the value every byte of a flash block holds after an erase.
const Erased = 0xff

// Block Layer

// BlockID is the index of a physical erase unit, counted from the start of
// the flash region.
type BlockID uint32

// Device is a raw flash region. Offsets passed to ReadAt and WriteAt and the
// blocks passed to EraseBlock count from the start of the region, so block
// b covers the offsets b*SectorSize up to (b+1)*SectorSize. WriteAt may only
// program erased bytes; to rewrite a byte the whole block has to be erased
// first.
type Device interface {
	EraseBlock(BlockID) error

	ReadWriterAt
}

// File Layer

// FileID identifies a file within one filesystem generation.
type FileID uint16

// FileInfo describes the current version of a stored file.
type FileInfo struct {
	Name string
	ID   FileID

	// Addr is the offset of the payload, relative to the flash base address.
	Addr uint32
	Size uint32
}

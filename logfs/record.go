package logfs

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/keks/flashfs"
)

const (
	// RecordSize is the size of one header log slot.
	RecordSize = 16

	// NameSize is the number of name bytes an identity record stores.
	// Longer names are truncated.
	NameSize = 13
)

// State is the first byte of a header record and selects its layout. The
// state byte is written after the rest of the slot and commits it.
type State uint8

const (
	StateZeroed    State = 0x00
	StateIdentity  State = 0x01
	StateVersion   State = 0x02
	StateTombstone State = 0x03
	StateEmpty     State = flashfs.Erased
)

func (s State) String() string {
	switch s {
	case StateZeroed:
		return "zeroed"
	case StateIdentity:
		return "identity"
	case StateVersion:
		return "version"
	case StateTombstone:
		return "tombstone"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Record is one decoded header log slot.
//
// Identity:  state | id uint16 | name [13]
// Version:   state | id uint16 | 0 | addr uint32 | size uint32 | 0 [4]
// Tombstone: state | id uint16 | 0 [13]
type Record struct {
	State State
	ID    flashfs.FileID

	// identity only
	Name string

	// version only
	Addr uint32
	Size uint32
}

func (r Record) encode() []byte {
	buf := make([]byte, RecordSize)
	buf[0] = byte(r.State)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(r.ID))

	switch r.State {
	case StateIdentity:
		copy(buf[3:], r.Name)
	case StateVersion:
		binary.LittleEndian.PutUint32(buf[4:8], r.Addr)
		binary.LittleEndian.PutUint32(buf[8:12], r.Size)
	}

	return buf
}

func decodeRecord(buf []byte) (Record, error) {
	r := Record{
		State: State(buf[0]),
		ID:    flashfs.FileID(binary.LittleEndian.Uint16(buf[1:3])),
	}

	switch r.State {
	case StateIdentity:
		name := buf[3:RecordSize]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		if len(name) == 0 {
			return r, errors.Wrap(ErrCorrupt, "identity record without name")
		}
		r.Name = string(name)
	case StateVersion:
		r.Addr = binary.LittleEndian.Uint32(buf[4:8])
		r.Size = binary.LittleEndian.Uint32(buf[8:12])
	case StateTombstone:
	default:
		return r, errors.Wrapf(ErrCorrupt, "unknown record state 0x%02x", buf[0])
	}

	if r.ID == 0 {
		return r, errors.Wrapf(ErrCorrupt, "%s record for file id 0", r.State)
	}

	return r, nil
}

// cleanName truncates name to what an identity record can hold.
func cleanName(name string) (string, error) {
	if name == "" {
		return "", errors.Wrap(ErrInvalidName, "empty name")
	}

	if len(name) > NameSize {
		name = name[:NameSize]
	}

	if bytes.IndexByte([]byte(name), 0) >= 0 {
		return "", errors.Wrapf(ErrInvalidName, "%q contains a NUL byte", name)
	}

	return name, nil
}

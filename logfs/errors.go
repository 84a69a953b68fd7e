package logfs

import "github.com/pkg/errors"

var (
	// ErrCorrupt is returned when the active header block cannot be
	// replayed, or when two header blocks claim the same generation. There
	// is no automatic repair; the caller has to Format.
	ErrCorrupt = errors.New("logfs: filesystem corrupt")

	ErrNotFound     = errors.New("logfs: file not found")
	ErrHeaderFull   = errors.New("logfs: header block full")
	ErrDataFull     = errors.New("logfs: data blocks full")
	ErrFileTooLarge = errors.New("logfs: file too large")
	ErrInvalidName  = errors.New("logfs: invalid file name")

	// ErrSerialExhausted is returned by Optimize and Format once the
	// generation serial has reached its maximum.
	ErrSerialExhausted = errors.New("logfs: generation serial exhausted")

	// ErrNotMounted is returned by every operation on a filesystem whose
	// mount failed.
	ErrNotMounted = errors.New("logfs: filesystem not mounted")
)

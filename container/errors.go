package container

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists is returned by Create when the target file exists and
	// overwrite was not requested.
	ErrAlreadyExists = errors.New("container already exists")

	// ErrNotFound is returned by Open when no container exists at the path.
	ErrNotFound = errors.New("container not found")

	// ErrFrameNotFound is returned when a frame id or URI does not resolve.
	ErrFrameNotFound = errors.New("frame not found")

	// ErrURIConflict is returned when a put would give a URI a second Active
	// owner and dedup is disabled.
	ErrURIConflict = errors.New("uri already owned by an active frame")

	// ErrInvalidOptions is returned when put/update options conflict or are
	// malformed.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrReadOnly is returned when a mutating operation is attempted on a
	// read-only handle.
	ErrReadOnly = errors.New("container opened read-only")

	// ErrPayloadOmitted is returned when the canonical payload of a no_raw
	// frame is requested.
	ErrPayloadOmitted = errors.New("payload omitted at put time (no_raw)")

	// ErrCorrupt indicates the container file itself is malformed (bad
	// magic, unsupported version, truncated header).
	ErrCorrupt = errors.New("corrupt container")
)

// ChecksumMismatchError is returned when the recomputed digest of a frame's
// canonical payload does not equal the stored digest.
type ChecksumMismatchError struct {
	Frame    uint64
	Expected [32]byte
	Actual   [32]byte
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("frame %d: checksum mismatch: expected %x, got %x", e.Frame, e.Expected[:4], e.Actual[:4])
}

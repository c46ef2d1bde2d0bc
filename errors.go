package mv2

import (
	"errors"
	"fmt"

	"github.com/mv2db/mv2/container"
	"github.com/mv2db/mv2/internal/cursor"
)

var (
	// ErrAlreadyExists is returned by Create when a container already exists
	// at the path and overwrite was not requested.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when a container, frame or URI does not
	// resolve.
	ErrNotFound = errors.New("not found")

	// ErrURIConflict is returned when a put or update would give a URI a
	// second Active owner.
	ErrURIConflict = errors.New("uri conflict")

	// ErrInvalidOptions is returned for conflicting or malformed put/update
	// options.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrInvalidRequest is returned for invalid search/timeline parameters:
	// non-positive top_k or limit, malformed cursors.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrQueryMalformed is returned when a query string cannot be parsed.
	ErrQueryMalformed = errors.New("malformed query")

	// ErrIndexUnavailable marks a degraded primary index. It is logged, not
	// returned: searches fall back to the lexical engine and report it via
	// the engine label.
	ErrIndexUnavailable = errors.New("primary index unavailable")

	// ErrReadOnly is returned when a mutating operation is attempted on a
	// read-only store.
	ErrReadOnly = errors.New("store opened read-only")

	// ErrPayloadOmitted is returned when payload bytes of a no_raw frame are
	// requested.
	ErrPayloadOmitted = errors.New("payload omitted")

	// ErrCorruptFrame is returned when a frame's payload fails checksum
	// verification or the container file is malformed.
	ErrCorruptFrame = errors.New("corrupt frame")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, container.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case errors.Is(err, container.ErrNotFound), errors.Is(err, container.ErrFrameNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, container.ErrURIConflict):
		return fmt.Errorf("%w: %w", ErrURIConflict, err)
	case errors.Is(err, container.ErrInvalidOptions):
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	case errors.Is(err, container.ErrReadOnly):
		return fmt.Errorf("%w: %w", ErrReadOnly, err)
	case errors.Is(err, container.ErrPayloadOmitted):
		return fmt.Errorf("%w: %w", ErrPayloadOmitted, err)
	case errors.Is(err, container.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrCorruptFrame, err)
	case errors.Is(err, cursor.ErrMalformed):
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	var mismatch *container.ChecksumMismatchError
	if errors.As(err, &mismatch) {
		return fmt.Errorf("%w: %w", ErrCorruptFrame, err)
	}

	return err
}

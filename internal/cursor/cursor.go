// Package cursor encodes and decodes the pagination cursors handed to
// clients. Search cursors are opaque base64; timeline cursors are the
// documented "{timestamp}:{frame_id}" form.
package cursor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned for cursors the store did not produce.
var ErrMalformed = errors.New("malformed cursor")

const searchVersion = "v1"

// Search is the state carried by a search cursor: how many hits were already
// returned and the sequence number the first page was answered at, so later
// pages see the same store state.
type Search struct {
	Offset  int
	AsOfSeq uint64
}

// EncodeSearch returns the opaque form of a search cursor.
func EncodeSearch(c Search) string {
	raw := fmt.Sprintf("%s:%d:%d", searchVersion, c.Offset, c.AsOfSeq)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeSearch parses an opaque search cursor.
func DecodeSearch(s string) (Search, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Search{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] != searchVersion {
		return Search{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	offset, err := strconv.Atoi(parts[1])
	if err != nil || offset < 0 {
		return Search{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	asOf, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Search{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Search{Offset: offset, AsOfSeq: asOf}, nil
}

// Timeline is the resume point of a timeline page: the timestamp and frame
// id of the last entry returned.
type Timeline struct {
	Timestamp int64
	Frame     uint64
}

// EncodeTimeline returns the "{timestamp}:{frame_id}" form.
func EncodeTimeline(c Timeline) string {
	return fmt.Sprintf("%d:%d", c.Timestamp, c.Frame)
}

// DecodeTimeline parses a timeline cursor.
func DecodeTimeline(s string) (Timeline, error) {
	tsPart, idPart, ok := strings.Cut(s, ":")
	if !ok {
		return Timeline{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return Timeline{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return Timeline{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Timeline{Timestamp: ts, Frame: id}, nil
}

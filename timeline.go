package mv2

import (
	"fmt"
	"time"

	"github.com/mv2db/mv2/container"
	"github.com/mv2db/mv2/internal/cursor"
)

const (
	// DefaultTimelineLimit is a conventional page size for adapters that do
	// not let callers choose one. The core itself requires an explicit
	// positive limit.
	DefaultTimelineLimit = 100

	// DefaultMaxTimelineScan caps how many raw entries one timeline page may
	// scan, whatever the fetch doubling reaches.
	DefaultMaxTimelineScan = 2000
)

// TimelineEntry is one document on the chronological axis.
type TimelineEntry = container.TimelineEntry

// TimelineQuery describes one timeline page request.
type TimelineQuery struct {
	// Limit is the page size. Must be positive.
	Limit int

	// Since and Until bound entry timestamps inclusively. Nil means open.
	Since *int64
	Until *int64

	// Reverse walks newest-first.
	Reverse bool

	// Cursor resumes after the entry it names, in "timestamp:frame_id"
	// form.
	Cursor string
}

// TimelineResult is one page of chronological entries.
type TimelineResult struct {
	Entries []TimelineEntry

	// NextCursor is non-empty iff the page came back exactly full; an empty
	// cursor means the scan is exhausted.
	NextCursor string
}

// timelineScanner is the bounded raw-scan primitive the pagination loop
// drives. The container implements it; tests mock it.
type timelineScanner interface {
	ScanTimeline(since, until *int64, reverse bool, limit int) []container.TimelineEntry
}

// Timeline returns one chronological page of Active documents. Entries are
// ordered by (timestamp, frame id), ascending unless Reverse is set.
func (st *Store) Timeline(q TimelineQuery) (*TimelineResult, error) {
	start := time.Now()
	result, rounds, err := st.timeline(q)
	elapsed := time.Since(start)
	if err != nil {
		st.logger.LogTimeline(q.Limit, 0, rounds, err)
		st.metrics.RecordTimeline(0, elapsed, err)
		return nil, err
	}
	st.logger.LogTimeline(q.Limit, len(result.Entries), rounds, nil)
	st.metrics.RecordTimeline(len(result.Entries), elapsed, nil)
	return result, nil
}

func (st *Store) timeline(q TimelineQuery) (*TimelineResult, int, error) {
	if q.Limit <= 0 {
		return nil, 0, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidRequest, q.Limit)
	}
	var cur *cursor.Timeline
	if q.Cursor != "" {
		decoded, err := cursor.DecodeTimeline(q.Cursor)
		if err != nil {
			return nil, 0, translateError(err)
		}
		cur = &decoded
	}
	entries, rounds := paginateTimeline(st.container, q, cur, st.maxTimelineScan)
	result := &TimelineResult{Entries: entries}
	if len(entries) == q.Limit {
		last := entries[len(entries)-1]
		result.NextCursor = cursor.EncodeTimeline(cursor.Timeline{
			Timestamp: last.Timestamp,
			Frame:     last.FrameID,
		})
	}
	return result, rounds, nil
}

// paginateTimeline runs the adaptive fetch-and-filter loop: scan up to
// fetchLimit raw entries, drop everything at or before the cursor, and
// double fetchLimit (capped at maxScan) until the page fills, the scan is
// exhausted, or the cap is reached. Doubling bounds the rescanning to a
// logarithmic number of rounds instead of one unbounded scan per page.
func paginateTimeline(scan timelineScanner, q TimelineQuery, cur *cursor.Timeline, maxScan int) ([]TimelineEntry, int) {
	since, until := q.Since, q.Until
	if cur != nil {
		// The cursor timestamp tightens the bounds so repeated scans shrink
		// the candidate range monotonically.
		if !q.Reverse {
			if since == nil || cur.Timestamp > *since {
				t := cur.Timestamp
				since = &t
			}
		} else {
			if until == nil || cur.Timestamp < *until {
				t := cur.Timestamp
				until = &t
			}
		}
	}
	fetchLimit := q.Limit
	if fetchLimit > maxScan {
		fetchLimit = maxScan
	}
	rounds := 0
	for {
		rounds++
		raw := scan.ScanTimeline(since, until, q.Reverse, fetchLimit)
		var filtered []TimelineEntry
		if cur == nil {
			filtered = raw
		} else {
			for _, e := range raw {
				if pastCursor(e, cur, q.Reverse) {
					filtered = append(filtered, e)
				}
			}
		}
		if len(filtered) >= q.Limit || len(raw) < fetchLimit || fetchLimit == maxScan {
			if len(filtered) > q.Limit {
				filtered = filtered[:q.Limit]
			}
			return filtered, rounds
		}
		fetchLimit *= 2
		if fetchLimit > maxScan {
			fetchLimit = maxScan
		}
	}
}

// pastCursor reports whether an entry lies strictly beyond the cursor under
// the (timestamp, frame id) ordering for the scan direction.
func pastCursor(e TimelineEntry, cur *cursor.Timeline, reverse bool) bool {
	if reverse {
		if e.Timestamp != cur.Timestamp {
			return e.Timestamp < cur.Timestamp
		}
		return e.FrameID < cur.Frame
	}
	if e.Timestamp != cur.Timestamp {
		return e.Timestamp > cur.Timestamp
	}
	return e.FrameID > cur.Frame
}

package container

import (
	"sort"

	"github.com/mv2db/mv2/frame"
)

// TimelineEntry is one Active document on the container's time axis.
type TimelineEntry struct {
	FrameID   frame.ID
	Timestamp int64
	Title     string
	URI       string

	// Preview is a short prefix of the document's text.
	Preview string

	// ChildFrames lists Active chunk and sub-object frames of the document.
	ChildFrames []frame.ID
}

// previewRunes bounds the preview length of a timeline entry.
const previewRunes = 120

// ScanTimeline returns up to limit Active document frames whose timestamps
// fall within [since, until], ordered by (timestamp, frame id) ascending, or
// descending when reverse is set. Nil bounds are open. A limit of 0 means
// no limit.
//
// The scan is a bounded primitive; cursor-driven pagination is layered on
// top of it by the store.
func (c *Container) ScanTimeline(since, until *int64, reverse bool, limit int) []TimelineEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []TimelineEntry
	for _, f := range c.frames {
		if f.Status != frame.StatusActive || f.Role != frame.RoleDocument {
			continue
		}
		if since != nil && f.Timestamp < *since {
			continue
		}
		if until != nil && f.Timestamp > *until {
			continue
		}
		entries = append(entries, c.timelineEntryLocked(f))
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Timestamp != b.Timestamp {
			if reverse {
				return a.Timestamp > b.Timestamp
			}
			return a.Timestamp < b.Timestamp
		}
		if reverse {
			return a.FrameID > b.FrameID
		}
		return a.FrameID < b.FrameID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func (c *Container) timelineEntryLocked(f *frame.Frame) TimelineEntry {
	entry := TimelineEntry{
		FrameID:   f.ID,
		Timestamp: f.Timestamp,
		Title:     f.Title,
		URI:       f.URI,
	}
	text := f.SearchText
	for _, cid := range c.children[f.ID] {
		child := c.frames[cid-1]
		if child.Status != frame.StatusActive {
			continue
		}
		entry.ChildFrames = append(entry.ChildFrames, cid)
		if text == "" && child.SearchText != "" {
			text = child.SearchText
		}
	}
	entry.Preview = truncateRunes(text, previewRunes)
	return entry
}

func truncateRunes(s string, n int) string {
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i]
		}
		runes++
	}
	return s
}

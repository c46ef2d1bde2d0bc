// Package lexical is the substring fallback engine used when the inverted
// index cannot serve a query, for example for partial-word matches. It scans
// frame search text case-insensitively and ranks by occurrence count; it
// produces no relevance score.
package lexical

import (
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/mv2db/mv2/frame"
	"github.com/mv2db/mv2/index"
)

// Match is one frame matched by a fallback scan.
type Match struct {
	Frame frame.ID

	// Parent is the owning document when the match is a chunk frame.
	Parent frame.ID

	// Occurrences is the total number of term occurrences found.
	Occurrences int

	// Spans locate the occurrences in the frame's search text.
	Spans []index.Span
}

type doc struct {
	text    string
	lowered string

	// offsets maps every byte of lowered to the start of the source rune it
	// came from. Lowercasing can change a rune's UTF-8 width, so spans found
	// in lowered cannot be used on text directly.
	offsets []int

	parent frame.ID
}

// sourceSpan translates a span in the lowered text back onto the original.
func (d *doc) sourceSpan(s index.Span) index.Span {
	start := d.offsets[s.Start]
	last := d.offsets[s.End-1]
	_, size := utf8.DecodeRuneInString(d.text[last:])
	return index.Span{Start: start, End: last + size}
}

// Engine holds the scannable text of all Active frames.
type Engine struct {
	mu   sync.RWMutex
	docs map[frame.ID]*doc
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{docs: make(map[frame.ID]*doc)}
}

// Add registers a frame's search text. Frames without text are ignored.
func (e *Engine) Add(id frame.ID, parent frame.ID, text string) {
	if text == "" {
		return
	}
	lowered, offsets := lowerWithOffsets(text)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs[id] = &doc{text: text, lowered: lowered, offsets: offsets, parent: parent}
}

// lowerWithOffsets lowercases text rune by rune, recording for every output
// byte the offset of the source rune it was derived from.
func lowerWithOffsets(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	offsets := make([]int, 0, len(text))
	for i, r := range text {
		lr := unicode.ToLower(r)
		for j := 0; j < utf8.RuneLen(lr); j++ {
			offsets = append(offsets, i)
		}
		b.WriteRune(lr)
	}
	return b.String(), offsets
}

// Remove drops a frame from the scan set.
func (e *Engine) Remove(id frame.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.docs, id)
}

// Len returns the number of scannable frames.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Search scans every frame for the query's terms as substrings. All terms
// must occur at least once. Results are ordered by occurrence count
// descending, ties by frame id descending, capped at topK (0 means no cap).
func (e *Engine) Search(query string, topK int) []Match {
	terms := fieldlessTerms(query)
	if len(terms) == 0 {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var matches []Match
	for id, d := range e.docs {
		m := Match{Frame: id, Parent: d.parent}
		ok := true
		for _, term := range terms {
			spans := findAll(d.lowered, term)
			if len(spans) == 0 {
				ok = false
				break
			}
			m.Occurrences += len(spans)
			for _, s := range spans {
				m.Spans = append(m.Spans, d.sourceSpan(s))
			}
		}
		if !ok {
			continue
		}
		sort.Slice(m.Spans, func(i, j int) bool { return m.Spans[i].Start < m.Spans[j].Start })
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Occurrences != matches[j].Occurrences {
			return matches[i].Occurrences > matches[j].Occurrences
		}
		return matches[i].Frame > matches[j].Frame
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// fieldlessTerms lowers the query and strips operators and field filters;
// the fallback engine only understands plain terms.
func fieldlessTerms(query string) []string {
	var terms []string
	skipNext := false
	for _, raw := range strings.Fields(query) {
		switch raw {
		case "AND", "OR":
			continue
		case "NOT":
			skipNext = true
			continue
		}
		if skipNext || strings.HasPrefix(raw, "-") {
			skipNext = false
			continue
		}
		if strings.Contains(raw, ":") {
			continue
		}
		terms = append(terms, strings.ToLower(raw))
	}
	return terms
}

func findAll(text, term string) []index.Span {
	var spans []index.Span
	for off := 0; ; {
		i := strings.Index(text[off:], term)
		if i < 0 {
			return spans
		}
		start := off + i
		spans = append(spans, index.Span{Start: start, End: start + len(term)})
		off = start + len(term)
	}
}

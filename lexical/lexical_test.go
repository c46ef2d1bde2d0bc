package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSubstring(t *testing.T) {
	e := New()
	e.Add(1, 0, "The quick brown fox")
	e.Add(2, 0, "lazy dogs sleeping")

	matches := e.Search("QUICK", 0)
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(1), matches[0].Frame)
	assert.Equal(t, 1, matches[0].Occurrences)
	require.Len(t, matches[0].Spans, 1)
	assert.Equal(t, "quick", "the quick brown fox"[matches[0].Spans[0].Start:matches[0].Spans[0].End])
}

func TestSearchPartialWord(t *testing.T) {
	// Partial-word recall is the whole point of the fallback engine.
	e := New()
	e.Add(1, 0, "reconfiguration complete")

	matches := e.Search("figur", 0)
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(1), matches[0].Frame)
}

func TestSearchAllTermsRequired(t *testing.T) {
	e := New()
	e.Add(1, 0, "alpha beta")
	e.Add(2, 0, "alpha gamma")

	matches := e.Search("alpha beta", 0)
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(1), matches[0].Frame)
}

func TestSearchRanksByOccurrences(t *testing.T) {
	e := New()
	e.Add(1, 0, "echo")
	e.Add(2, 0, "echo echo echo")

	matches := e.Search("echo", 0)
	require.Len(t, matches, 2)
	assert.Equal(t, uint64(2), matches[0].Frame)
	assert.Equal(t, 3, matches[0].Occurrences)
}

func TestSearchTieBreakNewestFirst(t *testing.T) {
	e := New()
	e.Add(1, 0, "same words")
	e.Add(2, 0, "same words")

	matches := e.Search("same", 0)
	require.Len(t, matches, 2)
	assert.Equal(t, uint64(2), matches[0].Frame)
}

func TestSearchIgnoresOperatorsAndFields(t *testing.T) {
	e := New()
	e.Add(1, 0, "alpha text")

	matches := e.Search("alpha OR tag:work -noise NOT junk", 0)
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(1), matches[0].Frame)
}

func TestSearchTopKAndRemove(t *testing.T) {
	e := New()
	for id := uint64(1); id <= 5; id++ {
		e.Add(id, 0, "shared content")
	}
	assert.Len(t, e.Search("shared", 3), 3)

	e.Remove(5)
	e.Remove(4)
	assert.Equal(t, 3, e.Len())
	assert.Len(t, e.Search("shared", 0), 3)
}

func TestChunkParentCarried(t *testing.T) {
	e := New()
	e.Add(7, 3, "chunk body text")

	matches := e.Search("body", 0)
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(7), matches[0].Frame)
	assert.Equal(t, uint64(3), matches[0].Parent)
}

func TestSpansMapToOriginalText(t *testing.T) {
	// Lowercasing shrinks the dotted capital I from two bytes to one, so
	// spans found in the lowered text must be mapped back before use.
	original := "İstanbul shore"
	e := New()
	e.Add(1, 0, original)

	matches := e.Search("istanbul", 0)
	require.Len(t, matches, 1)
	require.Len(t, matches[0].Spans, 1)
	span := matches[0].Spans[0]
	assert.Equal(t, "İstanbul", original[span.Start:span.End])

	matches = e.Search("shore", 0)
	require.Len(t, matches, 1)
	span = matches[0].Spans[0]
	assert.Equal(t, "shore", original[span.Start:span.End])
}

func TestEmptyQueries(t *testing.T) {
	e := New()
	e.Add(1, 0, "content")
	assert.Empty(t, e.Search("", 0))
	assert.Empty(t, e.Search("tag:only", 0))
	e.Add(2, 0, "")
	assert.Equal(t, 1, e.Len())
}

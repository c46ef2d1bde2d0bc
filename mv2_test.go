package mv2

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mv2db/mv2/frame"
	"github.com/mv2db/mv2/testutil"
)

func newTestStore(t *testing.T, optFns ...Option) *Store {
	t.Helper()
	st, err := Create(filepath.Join(t.TempDir(), "m.mv2"), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func tsp(v int64) *int64 { return &v }

func TestHelloWorldScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.mv2")
	st, err := Create(path)
	require.NoError(t, err)
	defer st.Close()

	put, err := st.Put([]byte("hello world"), &PutOptions{URI: "u1"})
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "hello", TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Hits)
	assert.Equal(t, put.FrameID, resp.Hits[0].FrameID)
	assert.GreaterOrEqual(t, resp.Hits[0].Matches, 1)
	assert.Equal(t, EnginePrimary, resp.Engine)

	// Update supersedes the original under the same URI.
	updated, err := st.Update(put.FrameID, []byte("updated"), nil)
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	cur, err := st.FrameByURI("u1")
	require.NoError(t, err)
	assert.Equal(t, updated.FrameID, cur.ID)
	assert.Equal(t, frame.StatusActive, cur.Status)
	payload, err := st.Payload(cur.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), payload)

	old, err := st.FrameByID(put.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusSuperseded, old.Status)

	// Delete tombstones the replacement.
	_, err = st.Delete(updated.FrameID)
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	gone, err := st.FrameByID(updated.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusDeleted, gone.Status)

	resp, err = st.Search(SearchRequest{Query: "updated", TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
}

func TestThreePutsTimelineScenario(t *testing.T) {
	st := newTestStore(t)

	for i, text := range []string{"first", "second", "third"} {
		_, err := st.Put([]byte(text), &PutOptions{Timestamp: tsp(int64(100 * (i + 1)))})
		require.NoError(t, err)
	}
	_, err := st.Commit()
	require.NoError(t, err)

	result, err := st.Timeline(TimelineQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, result.Entries, 3)
	assert.Empty(t, result.NextCursor)
	assert.Equal(t, int64(100), result.Entries[0].Timestamp)
	assert.Equal(t, int64(200), result.Entries[1].Timestamp)
	assert.Equal(t, int64(300), result.Entries[2].Timestamp)
}

func TestSearchBeforeCommitInvisible(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Put([]byte("invisible until commit"), nil)
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "invisible", TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)

	_, err = st.Commit()
	require.NoError(t, err)

	resp, err = st.Search(SearchRequest{Query: "invisible", TopK: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 1)
}

func TestInstantIndex(t *testing.T) {
	st := newTestStore(t)

	put, err := st.Put([]byte("searchable immediately"), &PutOptions{InstantIndex: true})
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "immediately", TopK: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, put.FrameID, resp.Hits[0].FrameID)
}

func TestSearchInvalidRequests(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Search(SearchRequest{Query: "x", TopK: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = st.Search(SearchRequest{Query: "x", TopK: -3})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = st.Search(SearchRequest{Query: "", TopK: 5})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = st.Search(SearchRequest{Query: "x", TopK: 5, Cursor: "garbage!!"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = st.Timeline(TimelineQuery{Limit: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = st.Timeline(TimelineQuery{Limit: 5, Cursor: "nonsense"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSearchPaginationEquivalence(t *testing.T) {
	st := newTestStore(t)
	rng := testutil.NewRNG(4711)

	for _, text := range rng.Documents(25, 12) {
		_, err := st.Put([]byte("granite "+text), nil)
		require.NoError(t, err)
	}
	_, err := st.Commit()
	require.NoError(t, err)

	full, err := st.Search(SearchRequest{Query: "granite", TopK: 25})
	require.NoError(t, err)
	require.Len(t, full.Hits, 25)
	assert.Empty(t, full.NextCursor)

	var paged []uint64
	cursor := ""
	pages := 0
	for {
		resp, err := st.Search(SearchRequest{Query: "granite", TopK: 7, Cursor: cursor})
		require.NoError(t, err)
		assert.Equal(t, 25, resp.Total)
		for _, h := range resp.Hits {
			paged = append(paged, h.FrameID)
		}
		pages++
		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	assert.Equal(t, 4, pages)

	var want []uint64
	for _, h := range full.Hits {
		want = append(want, h.FrameID)
	}
	assert.Equal(t, want, paged)
}

func TestSearchCursorIdempotent(t *testing.T) {
	st := newTestStore(t)
	for _, text := range []string{"river one", "river two", "river three"} {
		_, err := st.Put([]byte(text), nil)
		require.NoError(t, err)
	}
	_, err := st.Commit()
	require.NoError(t, err)

	first, err := st.Search(SearchRequest{Query: "river", TopK: 2})
	require.NoError(t, err)
	require.NotEmpty(t, first.NextCursor)

	a, err := st.Search(SearchRequest{Query: "river", TopK: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	b, err := st.Search(SearchRequest{Query: "river", TopK: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, a.Hits, b.Hits)
}

func TestSearchAsOfFrame(t *testing.T) {
	st := newTestStore(t)

	put1, err := st.Put([]byte("willow original"), &PutOptions{URI: "u1"})
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	put2, err := st.Update(put1.FrameID, []byte("willow revised"), nil)
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "willow", TopK: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, put2.FrameID, resp.Hits[0].FrameID)

	// As of the first put the original is still the visible version.
	resp, err = st.Search(SearchRequest{Query: "willow", TopK: 10, AsOfFrame: put1.FrameID})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, put1.FrameID, resp.Hits[0].FrameID)
}

func TestSearchAsOfFrameAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.mv2")
	st, err := Create(path)
	require.NoError(t, err)

	put1, err := st.Put([]byte("willow original"), &PutOptions{URI: "u1"})
	require.NoError(t, err)
	_, err = st.Update(put1.FrameID, []byte("willow revised"), nil)
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// A rebuilt index must answer as-of queries the same way the live one
	// did: the original version was alive when put1 was appended.
	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	resp, err := st.Search(SearchRequest{Query: "willow", TopK: 10, AsOfFrame: put1.FrameID})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, put1.FrameID, resp.Hits[0].FrameID)
	assert.Contains(t, resp.Hits[0].Snippet, "original")
}

func TestSearchAfterChunkedMetadataUpdate(t *testing.T) {
	st := newTestStore(t, WithChunkThreshold(64))

	rng := testutil.NewRNG(11)
	text := rng.Sentence(60) + " cobalt landmark"
	put, err := st.Put([]byte(text), &PutOptions{URI: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, put.Chunks)
	_, err = st.Commit()
	require.NoError(t, err)

	next, err := st.Update(put.FrameID, nil, &PutOptions{Tags: []string{"pinned"}})
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "landmark", TopK: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, next.FrameID, resp.Hits[0].FrameID)
	assert.Equal(t, EnginePrimary, resp.Engine)
	assert.NotZero(t, resp.Hits[0].ChunkFrame)
}

func TestSearchURIAndScopeFilters(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Put([]byte("meadow report"), &PutOptions{URI: "mem://work/1"})
	require.NoError(t, err)
	put2, err := st.Put([]byte("meadow notes"), &PutOptions{URI: "mem://home/2"})
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "meadow", TopK: 10, URI: "mem://home/2"})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, put2.FrameID, resp.Hits[0].FrameID)

	resp, err = st.Search(SearchRequest{Query: "meadow", TopK: 10, Scope: "mem://work/"})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "mem://work/1", resp.Hits[0].URI)
}

func TestSearchFallbackSupplement(t *testing.T) {
	st := newTestStore(t)

	// "figur" is a substring of the indexed token, invisible to the
	// inverted index but reachable through the fallback scan.
	put, err := st.Put([]byte("reconfiguration complete"), nil)
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "figur", TopK: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, put.FrameID, resp.Hits[0].FrameID)
	assert.Equal(t, EngineHybrid, resp.Engine)
	assert.Nil(t, resp.Hits[0].Score)
}

func TestSearchSnippetAndContext(t *testing.T) {
	st := newTestStore(t)

	_, err := st.Put([]byte("the zenith of the experiment was reached on day twelve"), &PutOptions{Title: "log"})
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "zenith", TopK: 10, SnippetChars: 20})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	hit := resp.Hits[0]
	assert.Contains(t, hit.Snippet, "zenith")
	assert.LessOrEqual(t, len(hit.Snippet), 20+len("zenith"))
	assert.Less(t, hit.Start, hit.End)
	assert.Contains(t, resp.Context, "[1] log")
	assert.Contains(t, resp.Context, hit.Snippet)
}

func TestSearchMetadataEcho(t *testing.T) {
	st := newTestStore(t)

	conf := float32(0.9)
	_, err := st.Put([]byte("orchid taxonomy study"), &PutOptions{
		Track:        "research",
		Tags:         []string{"botany"},
		Labels:       []string{"draft"},
		Timestamp:    tsp(1234),
		ContentDates: []string{"2024-05-01"},
		Metadata: &frame.DocMetadata{
			MimeType: "text/plain",
			Entities: []frame.Entity{{Name: "Orchidaceae", Kind: "taxon", Confidence: &conf}},
		},
	})
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "orchid", TopK: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	hit := resp.Hits[0]
	assert.Equal(t, "research", hit.Track)
	assert.Equal(t, []string{"botany"}, hit.Tags)
	assert.Equal(t, []string{"draft"}, hit.Labels)
	assert.Equal(t, int64(1234), hit.CreatedAt)
	assert.Equal(t, []string{"2024-05-01"}, hit.ContentDates)
	require.Len(t, hit.Entities, 1)
	assert.Equal(t, "Orchidaceae", hit.Entities[0].Name)
}

func TestChunkedSearchReportsParent(t *testing.T) {
	st := newTestStore(t, WithChunkThreshold(64))
	rng := testutil.NewRNG(7)

	text := rng.Sentence(80) + " quartz landmark"
	put, err := st.Put([]byte(text), &PutOptions{URI: "mem://big/1"})
	require.NoError(t, err)
	require.NotEmpty(t, put.Chunks)
	_, err = st.Commit()
	require.NoError(t, err)

	resp, err := st.Search(SearchRequest{Query: "landmark", TopK: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	hit := resp.Hits[0]
	assert.Equal(t, put.FrameID, hit.FrameID)
	assert.Equal(t, "mem://big/1", hit.URI)
	assert.NotZero(t, hit.ChunkFrame)
	assert.Equal(t, uint32(len(put.Chunks)), hit.ChunkCount)
	assert.Contains(t, hit.Snippet, "landmark")
}

func TestReopenRebuildsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.mv2")
	st, err := Create(path)
	require.NoError(t, err)

	put, err := st.Put([]byte("persistent timber record"), nil)
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	resp, err := st.Search(SearchRequest{Query: "timber", TopK: 10})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, put.FrameID, resp.Hits[0].FrameID)

	stats := st.Stats()
	assert.True(t, stats.PrimaryHealthy)
	assert.Equal(t, 1, stats.ActiveFrames)
}

func TestReadOnlyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.mv2")
	st, err := Create(path)
	require.NoError(t, err)
	_, err = st.Put([]byte("shared snapshot"), nil)
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)
	require.NoError(t, st.Close())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	resp, err := ro.Search(SearchRequest{Query: "snapshot", TopK: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Hits, 1)

	_, err = ro.Put([]byte("nope"), nil)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestStoreErrors(t *testing.T) {
	st := newTestStore(t)

	_, err := st.FrameByID(99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.FrameByURI("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.Put([]byte("a"), &PutOptions{URI: "u1"})
	require.NoError(t, err)
	_, err = st.Put([]byte("b"), &PutOptions{URI: "u1"})
	assert.ErrorIs(t, err, ErrURIConflict)

	_, err = st.Search(SearchRequest{Query: "tag: x", TopK: 5})
	assert.ErrorIs(t, err, ErrQueryMalformed)

	_, err = Open(filepath.Join(t.TempDir(), "missing.mv2"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetricsCollected(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	st := newTestStore(t, WithMetricsCollector(metrics))

	_, err := st.Put([]byte("metered put"), nil)
	require.NoError(t, err)
	_, err = st.Commit()
	require.NoError(t, err)
	_, err = st.Search(SearchRequest{Query: "metered", TopK: 5})
	require.NoError(t, err)
	_, err = st.Timeline(TimelineQuery{Limit: 5})
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.PutCount)
	assert.Equal(t, int64(1), stats.CommitCount)
	assert.Equal(t, int64(1), stats.SearchCount)
	assert.Equal(t, int64(1), stats.TimelineCount)
	assert.Zero(t, stats.PutErrors)
}

package mv2

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mv2db/mv2/frame"
	"github.com/mv2db/mv2/index"
	"github.com/mv2db/mv2/internal/cursor"
)

// Engine names the search path that served a request.
type Engine string

const (
	// EnginePrimary means the inverted index served every hit.
	EnginePrimary Engine = "primary"
	// EngineLexicalFallback means the substring fallback served every hit.
	EngineLexicalFallback Engine = "lexical-fallback"
	// EngineHybrid means both engines contributed, merged by frame id with
	// primary-ranked hits taking precedence.
	EngineHybrid Engine = "hybrid"
)

// DefaultSnippetChars is the snippet budget applied when a request leaves
// SnippetChars zero.
const DefaultSnippetChars = 160

// SearchRequest describes one search call.
type SearchRequest struct {
	// Query is the query string: free-text terms ANDed by default, OR/NOT
	// operators, and tag:/label:/track:/uri:/scope: field filters.
	Query string

	// TopK is the page size. Must be positive.
	TopK int

	// SnippetChars caps the snippet length in characters. Zero means
	// DefaultSnippetChars.
	SnippetChars int

	// URI restricts hits to frames with exactly this URI.
	URI string

	// Scope restricts hits to frames whose URI starts with this prefix.
	Scope string

	// Cursor resumes a previous search at the next page.
	Cursor string

	// NoSketch bypasses the term-presence pre-filter in the primary index.
	NoSketch bool

	// AsOfFrame restricts results to frames visible when the given frame
	// was appended. Zero disables.
	AsOfFrame frame.ID

	// AsOfTS restricts results to frames whose timestamp is at most this
	// value (unix seconds). Zero disables.
	AsOfTS int64
}

// SearchHit is one ranked result.
type SearchHit struct {
	// Rank is 1-based within the returned page.
	Rank    int
	FrameID frame.ID
	URI     string
	Title   string

	// Start and End delimit the first query match in the matched text as a
	// half-open character (rune) range.
	Start int
	End   int

	// Snippet is the extracted text around the first match.
	Snippet string

	// Matches is the number of query term occurrences in the frame.
	Matches int

	// Score is the relevance score, or nil when the hit carries no ranking
	// signal (lexical fallback, field-only queries).
	Score *float64

	// ChunkFrame identifies the chunk the match landed in when the document
	// was chunked, with its position in the chunk group.
	ChunkFrame frame.ID
	ChunkIndex uint32
	ChunkCount uint32

	Track        string
	Tags         []string
	Labels       []string
	CreatedAt    int64
	ContentDates []string
	Entities     []frame.Entity
}

// SearchResponse is the result of one search call.
type SearchResponse struct {
	Query        string
	Elapsed      time.Duration
	Total        int
	TopK         int
	SnippetChars int
	Cursor       string
	Hits         []SearchHit

	// Context is a rendered block concatenating the page's snippets for
	// downstream consumption without re-fetching frames.
	Context string

	// NextCursor is non-empty iff more results remain.
	NextCursor string

	Engine Engine
}

// docHit is one merged per-document result before pagination.
type docHit struct {
	doc     frame.ID
	chunk   frame.ID // 0 when the match is on the document itself
	score   *float64
	spans   []index.Span
	matches int
}

// Search runs a hybrid query: the primary index first, the lexical fallback
// when the primary is unavailable or under-returns. Results are merged by
// frame id with primary hits taking precedence and paginated via opaque
// cursors; repeating a request with the same cursor returns the same page as
// long as the data has not changed.
func (st *Store) Search(req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	resp, err := st.search(req)
	elapsed := time.Since(start)
	if err != nil {
		st.logger.LogSearch(req.Query, "", 0, elapsed, err)
		st.metrics.RecordSearch("", 0, elapsed, err)
		return nil, err
	}
	resp.Elapsed = elapsed
	st.logger.LogSearch(req.Query, resp.Engine, len(resp.Hits), elapsed, nil)
	st.metrics.RecordSearch(resp.Engine, len(resp.Hits), elapsed, nil)
	return resp, nil
}

func (st *Store) search(req SearchRequest) (*SearchResponse, error) {
	if req.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidRequest, req.TopK)
	}
	if strings.TrimSpace(req.Query) == "" && req.URI == "" && req.Scope == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	snippetChars := req.SnippetChars
	if snippetChars <= 0 {
		snippetChars = DefaultSnippetChars
	}

	offset := 0
	asOfSeq := uint64(0)
	if req.Cursor != "" {
		cur, err := cursor.DecodeSearch(req.Cursor)
		if err != nil {
			return nil, translateError(err)
		}
		offset = cur.Offset
		asOfSeq = cur.AsOfSeq
	} else if req.AsOfFrame > 0 {
		f, err := st.container.Frame(req.AsOfFrame)
		if err != nil {
			return nil, fmt.Errorf("%w: as_of_frame %d does not exist", ErrInvalidRequest, req.AsOfFrame)
		}
		asOfSeq = f.SeqNo
	} else {
		// Freeze the visible state at the first page so later pages of the
		// same cursor are idempotent.
		asOfSeq = st.container.LastSeq()
	}

	q, err := st.parseRequestQuery(req)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	primaryHealthy := st.primaryHealthy
	st.mu.Unlock()

	var (
		docs   []docHit
		engine Engine
	)
	if primaryHealthy {
		docs = mergeByDoc(st.primary.Search(q, index.SearchOptions{
			AsOfSeq:  asOfSeq,
			AsOfTime: req.AsOfTS,
			NoSketch: req.NoSketch,
		}))
		engine = EnginePrimary
	}

	// The fallback cannot answer temporal queries; it only knows the
	// current Active set.
	asOfRequested := req.AsOfFrame > 0 || req.AsOfTS > 0
	needFallback := !primaryHealthy || len(docs) < offset+req.TopK
	if needFallback && !asOfRequested && strings.TrimSpace(req.Query) != "" {
		supplemented := st.supplementFromFallback(req, docs)
		if len(supplemented) > len(docs) {
			if primaryHealthy {
				engine = EngineHybrid
			} else {
				engine = EngineLexicalFallback
			}
			docs = supplemented
		} else if !primaryHealthy {
			engine = EngineLexicalFallback
		}
	}

	total := len(docs)
	page := docs
	if offset < len(page) {
		page = page[offset:]
	} else {
		page = nil
	}
	if len(page) > req.TopK {
		page = page[:req.TopK]
	}

	resp := &SearchResponse{
		Query:        req.Query,
		Total:        total,
		TopK:         req.TopK,
		SnippetChars: snippetChars,
		Cursor:       req.Cursor,
		Engine:       engine,
	}
	var contextBlock strings.Builder
	for i, d := range page {
		hit, err := st.renderHit(d, i+1, snippetChars)
		if err != nil {
			continue
		}
		resp.Hits = append(resp.Hits, hit)
		if contextBlock.Len() > 0 {
			contextBlock.WriteString("\n---\n")
		}
		label := hit.Title
		if label == "" {
			label = hit.URI
		}
		if label == "" {
			label = fmt.Sprintf("frame %d", hit.FrameID)
		}
		fmt.Fprintf(&contextBlock, "[%d] %s\n%s", hit.Rank, label, hit.Snippet)
	}
	resp.Context = contextBlock.String()
	if offset+len(page) < total {
		resp.NextCursor = cursor.EncodeSearch(cursor.Search{
			Offset:  offset + len(page),
			AsOfSeq: asOfSeq,
		})
	}
	return resp, nil
}

func (st *Store) parseRequestQuery(req SearchRequest) (*index.Query, error) {
	var q *index.Query
	if strings.TrimSpace(req.Query) != "" {
		parsed, err := index.ParseQuery(st.analyzer, req.Query)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQueryMalformed, err)
		}
		q = parsed
	} else {
		q = &index.Query{}
	}
	if req.URI != "" {
		q.Fields = append(q.Fields, index.FieldClause{Field: index.FieldURI, Value: req.URI})
	}
	if req.Scope != "" {
		q.Fields = append(q.Fields, index.FieldClause{Field: index.FieldScope, Value: req.Scope})
	}
	return q, nil
}

// mergeByDoc folds chunk hits into their owning document, keeping the rank
// order of the best hit per document.
func mergeByDoc(hits []index.Hit) []docHit {
	var docs []docHit
	seen := make(map[frame.ID]int)
	for _, h := range hits {
		docID := h.Frame
		chunk := frame.ID(0)
		if h.Parent != 0 {
			docID = h.Parent
			chunk = h.Frame
		}
		if i, ok := seen[docID]; ok {
			docs[i].matches += len(h.Spans)
			continue
		}
		d := docHit{doc: docID, chunk: chunk, spans: h.Spans, matches: len(h.Spans)}
		if h.Score > 0 {
			score := h.Score
			d.score = &score
		}
		seen[docID] = len(docs)
		docs = append(docs, d)
	}
	return docs
}

// supplementFromFallback appends fallback matches not already present,
// preserving the primary ordering. Fallback hits carry no score.
func (st *Store) supplementFromFallback(req SearchRequest, docs []docHit) []docHit {
	seen := make(map[frame.ID]struct{}, len(docs))
	for _, d := range docs {
		seen[d.doc] = struct{}{}
	}
	out := docs
	for _, m := range st.fallback.Search(req.Query, 0) {
		docID := m.Frame
		chunk := frame.ID(0)
		if m.Parent != 0 {
			docID = m.Parent
			chunk = m.Frame
		}
		if _, ok := seen[docID]; ok {
			continue
		}
		if !st.matchesURIFilter(docID, req) {
			continue
		}
		seen[docID] = struct{}{}
		out = append(out, docHit{doc: docID, chunk: chunk, spans: m.Spans, matches: m.Occurrences})
	}
	return out
}

func (st *Store) matchesURIFilter(id frame.ID, req SearchRequest) bool {
	if req.URI == "" && req.Scope == "" {
		return true
	}
	f, err := st.container.Frame(id)
	if err != nil {
		return false
	}
	if req.URI != "" && f.URI != req.URI {
		return false
	}
	if req.Scope != "" && !strings.HasPrefix(f.URI, req.Scope) {
		return false
	}
	return true
}

func (st *Store) renderHit(d docHit, rank, snippetChars int) (SearchHit, error) {
	doc, err := st.container.Frame(d.doc)
	if err != nil {
		return SearchHit{}, err
	}
	text := doc.SearchText
	hit := SearchHit{
		Rank:         rank,
		FrameID:      doc.ID,
		URI:          doc.URI,
		Title:        doc.Title,
		Matches:      d.matches,
		Score:        d.score,
		Track:        doc.Track,
		Tags:         doc.Tags,
		Labels:       doc.Labels,
		CreatedAt:    doc.Timestamp,
		ContentDates: doc.ContentDates,
	}
	if doc.Metadata != nil {
		hit.Entities = doc.Metadata.Entities
	}
	if d.chunk != 0 {
		chunk, err := st.container.Frame(d.chunk)
		if err == nil {
			text = chunk.SearchText
			hit.ChunkFrame = chunk.ID
			hit.ChunkIndex = chunk.ChunkIndex
			hit.ChunkCount = chunk.ChunkCount
		}
	}
	if len(d.spans) > 0 && text != "" {
		span := d.spans[0]
		hit.Snippet = extractSnippet(text, span, snippetChars)
		hit.Start = utf8.RuneCountInString(text[:clampOffset(text, span.Start)])
		hit.End = hit.Start + utf8.RuneCountInString(text[clampOffset(text, span.Start):clampOffset(text, span.End)])
	} else {
		hit.Snippet = truncateChars(text, snippetChars)
	}
	return hit, nil
}

// extractSnippet returns up to budget characters of text centered on the
// span, cut at rune boundaries.
func extractSnippet(text string, span index.Span, budget int) string {
	spanStart := clampOffset(text, span.Start)
	spanEnd := clampOffset(text, span.End)
	spanRunes := utf8.RuneCountInString(text[spanStart:spanEnd])
	if spanRunes >= budget {
		return truncateChars(text[spanStart:], budget)
	}
	margin := (budget - spanRunes) / 2
	start := spanStart
	for i := 0; i < margin && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	end := spanEnd
	for i := 0; i < margin && end < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return text[start:end]
}

// clampOffset pins a byte offset inside text onto a rune boundary.
func clampOffset(text string, off int) int {
	if off < 0 {
		return 0
	}
	if off > len(text) {
		return len(text)
	}
	for off > 0 && off < len(text) && !utf8.RuneStart(text[off]) {
		off--
	}
	return off
}

func truncateChars(s string, n int) string {
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i]
		}
		runes++
	}
	return s
}

// Package index implements the in-memory inverted index over frame search
// text and keyword metadata. It is rebuilt from the container on open and
// kept current as commits publish new frames and status transitions.
package index

import (
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/mv2db/mv2/frame"
	"github.com/mv2db/mv2/tokenizer"
)

// BM25 parameters, the common defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Span is a half-open byte range [Start, End) into a frame's search text.
type Span struct {
	Start int
	End   int
}

// Hit is one scored frame returned by Search.
type Hit struct {
	Frame frame.ID
	Score float64

	// Parent is the owning document when the hit is a chunk frame, else 0.
	Parent frame.ID

	// Spans locate query term occurrences in the frame's search text, in
	// ascending offset order.
	Spans []Span
}

// SearchOptions bound and filter one search.
type SearchOptions struct {
	// TopK caps the number of hits. Zero means no cap.
	TopK int

	// AsOfSeq restricts visibility to the store state as of a sequence
	// number: frames appended later, or still alive then despite being
	// terminal now, are treated accordingly. Zero disables.
	AsOfSeq uint64

	// AsOfTime restricts visibility by frame timestamp (unix seconds).
	// Zero disables.
	AsOfTime int64

	// NoSketch bypasses the term-presence sketch and always walks the
	// postings.
	NoSketch bool
}

type termDoc struct {
	freq  uint32
	spans []Span
}

type docInfo struct {
	length    int
	timestamp int64
	bornSeq   uint64
	deadSeq   uint64 // 0 while the frame is Active
	parent    frame.ID
}

// Index is the inverted index. All methods are safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	analyzer tokenizer.Analyzer

	postings map[string]map[frame.ID]*termDoc
	docs     map[frame.ID]*docInfo
	live     *roaring64.Bitmap

	tags   map[string]*roaring64.Bitmap
	labels map[string]*roaring64.Bitmap
	tracks map[string]*roaring64.Bitmap
	uris   map[string]*roaring64.Bitmap

	// sketch holds every term ever indexed, including terms whose postings
	// have since emptied. It only ever answers "definitely absent".
	sketch map[string]struct{}

	totalLen uint64
}

// New returns an empty index using the given analyzer.
func New(analyzer tokenizer.Analyzer) *Index {
	return &Index{
		analyzer: analyzer,
		postings: make(map[string]map[frame.ID]*termDoc),
		docs:     make(map[frame.ID]*docInfo),
		live:     roaring64.New(),
		tags:     make(map[string]*roaring64.Bitmap),
		labels:   make(map[string]*roaring64.Bitmap),
		tracks:   make(map[string]*roaring64.Bitmap),
		uris:     make(map[string]*roaring64.Bitmap),
		sketch:   make(map[string]struct{}),
	}
}

// Add indexes one frame. Frames without search text are still registered so
// field queries can find them.
func (ix *Index) Add(f *frame.Frame) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.addLocked(f)
}

func (ix *Index) addLocked(f *frame.Frame) {
	if _, ok := ix.docs[f.ID]; ok {
		return
	}
	info := &docInfo{
		timestamp: f.Timestamp,
		bornSeq:   f.SeqNo,
	}
	if f.ParentID != nil {
		info.parent = *f.ParentID
	}
	if f.SearchText != "" {
		toks := ix.analyzer.Analyze(f.SearchText)
		info.length = len(toks)
		ix.totalLen += uint64(len(toks))
		for _, tok := range toks {
			ix.sketch[tok.Term] = struct{}{}
			docs := ix.postings[tok.Term]
			if docs == nil {
				docs = make(map[frame.ID]*termDoc)
				ix.postings[tok.Term] = docs
			}
			td := docs[f.ID]
			if td == nil {
				td = &termDoc{}
				docs[f.ID] = td
			}
			td.freq++
			td.spans = append(td.spans, Span{Start: tok.Start, End: tok.End})
		}
	}
	ix.docs[f.ID] = info
	ix.live.Add(f.ID)
	for _, t := range f.Tags {
		addKeyword(ix.tags, ix.keywordKey(t), f.ID)
	}
	for _, l := range f.Labels {
		addKeyword(ix.labels, ix.keywordKey(l), f.ID)
	}
	if f.Track != "" {
		addKeyword(ix.tracks, ix.keywordKey(f.Track), f.ID)
	}
	if f.URI != "" {
		addKeyword(ix.uris, f.URI, f.ID)
	}
}

// keywordKey normalizes a tag/label/track value through the shared analyzer,
// so "Running" and "tag:runs" meet at the same key. Values the analyzer
// rejects entirely fall back to plain lowercasing.
func (ix *Index) keywordKey(value string) string {
	toks := ix.analyzer.Analyze(value)
	if len(toks) == 0 {
		return strings.ToLower(value)
	}
	terms := make([]string, len(toks))
	for i, tok := range toks {
		terms[i] = tok.Term
	}
	return strings.Join(terms, " ")
}

func addKeyword(m map[string]*roaring64.Bitmap, key string, id frame.ID) {
	bm := m[key]
	if bm == nil {
		bm = roaring64.New()
		m[key] = bm
	}
	bm.Add(id)
}

// Retire marks a frame no longer Active as of seq. Its postings stay so
// as-of queries can still see it; current-state queries skip it.
func (ix *Index) Retire(id frame.ID, seq uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	info, ok := ix.docs[id]
	if !ok || info.deadSeq != 0 {
		return
	}
	info.deadSeq = seq
	ix.live.Remove(id)
}

// Rebuild reindexes every frame in order, sharding analysis across
// workers. The existing contents of the index are discarded.
func (ix *Index) Rebuild(frames []*frame.Frame) error {
	workers := runtime.GOMAXPROCS(0)
	if workers > len(frames) {
		workers = len(frames)
	}
	if workers < 1 {
		workers = 1
	}
	shards := make([]*Index, workers)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		shards[w] = New(ix.analyzer)
		start, w := w, w
		g.Go(func() error {
			for i := start; i < len(frames); i += workers {
				f := frames[i]
				shards[w].addLocked(f)
				if f.Status.Terminal() {
					dead := f.RetiredSeq
					if dead == 0 {
						dead = f.SeqNo
					}
					shards[w].docs[f.ID].deadSeq = dead
					shards[w].live.Remove(f.ID)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.postings = make(map[string]map[frame.ID]*termDoc)
	ix.docs = make(map[frame.ID]*docInfo)
	ix.live = roaring64.New()
	ix.tags = make(map[string]*roaring64.Bitmap)
	ix.labels = make(map[string]*roaring64.Bitmap)
	ix.tracks = make(map[string]*roaring64.Bitmap)
	ix.uris = make(map[string]*roaring64.Bitmap)
	ix.sketch = make(map[string]struct{})
	ix.totalLen = 0
	for _, shard := range shards {
		for term, docs := range shard.postings {
			dst := ix.postings[term]
			if dst == nil {
				ix.postings[term] = docs
				continue
			}
			for id, td := range docs {
				dst[id] = td
			}
		}
		for id, info := range shard.docs {
			ix.docs[id] = info
		}
		ix.live.Or(shard.live)
		mergeKeywords(ix.tags, shard.tags)
		mergeKeywords(ix.labels, shard.labels)
		mergeKeywords(ix.tracks, shard.tracks)
		mergeKeywords(ix.uris, shard.uris)
		for term := range shard.sketch {
			ix.sketch[term] = struct{}{}
		}
		ix.totalLen += shard.totalLen
	}
	return nil
}

func mergeKeywords(dst, src map[string]*roaring64.Bitmap) {
	for key, bm := range src {
		if d := dst[key]; d != nil {
			d.Or(bm)
		} else {
			dst[key] = bm
		}
	}
}

// Docs returns the number of indexed frames, any status.
func (ix *Index) Docs() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Terms returns the number of distinct indexed terms.
func (ix *Index) Terms() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.postings)
}

// Search runs a parsed query and returns hits ordered by descending score,
// ties broken by descending frame id.
func (ix *Index) Search(q *Query, opts SearchOptions) []Hit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !opts.NoSketch {
		for _, term := range q.Terms {
			if _, ok := ix.sketch[term]; !ok {
				return nil
			}
		}
	}

	// Field clauses and the live set bound the candidate docs.
	filter := ix.filterBitmapLocked(q, opts)
	if filter != nil && filter.IsEmpty() {
		return nil
	}

	if len(q.Terms) == 0 {
		return ix.fieldOnlyHitsLocked(filter, opts)
	}

	type scored struct {
		score float64
		spans []Span
		terms int
	}
	candidates := make(map[frame.ID]*scored)
	n := float64(len(ix.docs))
	avgLen := 1.0
	if len(ix.docs) > 0 {
		avgLen = float64(ix.totalLen) / float64(len(ix.docs))
		if avgLen == 0 {
			avgLen = 1
		}
	}
	for _, term := range q.Terms {
		docs := ix.postings[term]
		if docs == nil {
			if q.Mode == ModeAnd {
				return nil
			}
			continue
		}
		idf := math.Log(1 + (n-float64(len(docs))+0.5)/(float64(len(docs))+0.5))
		for id, td := range docs {
			if !ix.visibleLocked(id, filter, opts) {
				continue
			}
			info := ix.docs[id]
			tf := float64(td.freq)
			norm := bm25K1*(1-bm25B+bm25B*float64(info.length)/avgLen) + tf
			s := candidates[id]
			if s == nil {
				s = &scored{}
				candidates[id] = s
			}
			s.score += idf * tf * (bm25K1 + 1) / norm
			s.spans = append(s.spans, td.spans...)
			s.terms++
		}
	}

	hits := make([]Hit, 0, len(candidates))
	for id, s := range candidates {
		if q.Mode == ModeAnd && s.terms < len(q.Terms) {
			continue
		}
		if ix.excludedLocked(id, q) {
			continue
		}
		sort.Slice(s.spans, func(i, j int) bool { return s.spans[i].Start < s.spans[j].Start })
		hits = append(hits, Hit{
			Frame:  id,
			Score:  s.score,
			Parent: ix.docs[id].parent,
			Spans:  s.spans,
		})
	}
	sortHits(hits)
	if opts.TopK > 0 && len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits
}

// filterBitmapLocked intersects the live (or as-of visible) set with every
// positive field clause. A nil result means "no field constraint" and
// visibility is checked per candidate instead.
func (ix *Index) filterBitmapLocked(q *Query, opts SearchOptions) *roaring64.Bitmap {
	var filter *roaring64.Bitmap
	intersect := func(bm *roaring64.Bitmap) {
		if bm == nil {
			bm = roaring64.New()
		}
		if filter == nil {
			filter = bm.Clone()
		} else {
			filter.And(bm)
		}
	}
	for _, fc := range q.Fields {
		if fc.Negated {
			continue
		}
		intersect(ix.fieldBitmapLocked(fc))
	}
	if filter == nil {
		return nil
	}
	if opts.AsOfSeq == 0 && opts.AsOfTime == 0 {
		filter.And(ix.live)
		return filter
	}
	visible := roaring64.New()
	it := filter.Iterator()
	for it.HasNext() {
		id := it.Next()
		if ix.visibleLocked(id, nil, opts) {
			visible.Add(id)
		}
	}
	return visible
}

func (ix *Index) fieldBitmapLocked(fc FieldClause) *roaring64.Bitmap {
	switch fc.Field {
	case FieldTag:
		return ix.tags[ix.keywordKey(fc.Value)]
	case FieldLabel:
		return ix.labels[ix.keywordKey(fc.Value)]
	case FieldTrack:
		return ix.tracks[ix.keywordKey(fc.Value)]
	case FieldURI:
		return ix.uris[fc.Value]
	case FieldScope:
		scope := roaring64.New()
		for uri, bm := range ix.uris {
			if strings.HasPrefix(uri, fc.Value) {
				scope.Or(bm)
			}
		}
		return scope
	default:
		return nil
	}
}

func (ix *Index) visibleLocked(id frame.ID, filter *roaring64.Bitmap, opts SearchOptions) bool {
	if filter != nil {
		return filter.Contains(id)
	}
	info := ix.docs[id]
	if info == nil {
		return false
	}
	if opts.AsOfSeq == 0 && opts.AsOfTime == 0 {
		return ix.live.Contains(id)
	}
	if opts.AsOfSeq > 0 {
		if info.bornSeq > opts.AsOfSeq {
			return false
		}
		if info.deadSeq != 0 && info.deadSeq <= opts.AsOfSeq {
			return false
		}
	} else if info.deadSeq != 0 {
		return false
	}
	if opts.AsOfTime > 0 && info.timestamp > opts.AsOfTime {
		return false
	}
	return true
}

func (ix *Index) excludedLocked(id frame.ID, q *Query) bool {
	for _, term := range q.Excluded {
		if docs := ix.postings[term]; docs != nil {
			if _, ok := docs[id]; ok {
				return true
			}
		}
	}
	for _, fc := range q.Fields {
		if !fc.Negated {
			continue
		}
		if bm := ix.fieldBitmapLocked(fc); bm != nil && bm.Contains(id) {
			return true
		}
	}
	return false
}

// fieldOnlyHitsLocked handles queries with no text terms: every doc passing
// the field filter matches with score 0, newest first.
func (ix *Index) fieldOnlyHitsLocked(filter *roaring64.Bitmap, opts SearchOptions) []Hit {
	if filter == nil {
		return nil
	}
	hits := make([]Hit, 0, filter.GetCardinality())
	it := filter.Iterator()
	for it.HasNext() {
		id := it.Next()
		hits = append(hits, Hit{Frame: id, Parent: ix.docs[id].parent})
	}
	sortHits(hits)
	if opts.TopK > 0 && len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Frame > hits[j].Frame
	})
}

package mv2

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mv2db/mv2/container"
	"github.com/mv2db/mv2/frame"
	"github.com/mv2db/mv2/index"
	"github.com/mv2db/mv2/lexical"
	"github.com/mv2db/mv2/tokenizer"
)

// Store is a handle on one .mv2 memory container, combining the frame store
// with the hybrid search engine and the timeline.
//
// A store is safe for concurrent use. It is single-writer: one handle opened
// for writing per container file, any number of read-only handles alongside
// it. Read-only handles see the state as of their open time; they must be
// reopened (or re-issue reads on a fresh handle) to observe later commits.
type Store struct {
	mu sync.Mutex

	container *container.Container
	primary   *index.Index
	fallback  *lexical.Engine
	analyzer  tokenizer.Analyzer

	// primaryHealthy is cleared when the primary index could not be built;
	// searches then run entirely on the fallback engine.
	primaryHealthy bool

	logger  *Logger
	metrics MetricsCollector

	maxTimelineScan int
}

// PutOptions configure a single put or update.
type PutOptions = container.PutOptions

// PutResult identifies the frame produced by a put or update.
type PutResult = container.PutResult

// CommitResult describes what a commit made durable.
type CommitResult = container.CommitResult

// Create creates a new container at path and returns a writable store. It
// fails with ErrAlreadyExists when the file exists.
func Create(path string, optFns ...Option) (*Store, error) {
	return create(path, false, optFns...)
}

// CreateOverwrite creates a new container at path, truncating any existing
// file.
func CreateOverwrite(path string, optFns ...Option) (*Store, error) {
	return create(path, true, optFns...)
}

func create(path string, overwrite bool, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)
	st, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	c, err := container.Create(path, overwrite, containerOptions(opts))
	if err != nil {
		return nil, translateError(err)
	}
	st.container = c
	st.primaryHealthy = true
	return st, nil
}

// Open opens an existing container for reading and writing and rebuilds the
// search indexes from it.
func Open(path string, optFns ...Option) (*Store, error) {
	return open(path, false, optFns...)
}

// OpenReadOnly opens an existing container for reading. Mutating operations
// fail with ErrReadOnly.
func OpenReadOnly(path string, optFns ...Option) (*Store, error) {
	return open(path, true, optFns...)
}

func open(path string, readOnly bool, optFns ...Option) (*Store, error) {
	opts := applyOptions(optFns)
	st, err := newStore(opts)
	if err != nil {
		return nil, err
	}
	var c *container.Container
	if readOnly {
		c, err = container.OpenReadOnly(path, containerOptions(opts))
	} else {
		c, err = container.Open(path, containerOptions(opts))
	}
	if err != nil {
		return nil, translateError(err)
	}
	st.container = c
	st.rebuildIndexes()
	return st, nil
}

func applyOptions(optFns []Option) *options {
	opts := &options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		maxTimelineScan:  DefaultMaxTimelineScan,
	}
	for _, fn := range optFns {
		fn(opts)
	}
	return opts
}

func containerOptions(opts *options) func(*container.Options) {
	return func(o *container.Options) {
		if opts.fileSystem != nil {
			o.FS = opts.fileSystem
		}
		if opts.compressionLevel > 0 {
			o.CompressionLevel = opts.compressionLevel
		}
		if opts.disableCompression {
			o.DisableCompression = true
		}
		if opts.chunkThreshold > 0 {
			o.ChunkThreshold = opts.chunkThreshold
		}
	}
}

func newStore(opts *options) (*Store, error) {
	analyzer := opts.analyzer
	if analyzer == nil {
		pipeline, err := tokenizer.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to build tokenizer pipeline: %w", err)
		}
		analyzer = pipeline
	}
	return &Store{
		primary:         index.New(analyzer),
		fallback:        lexical.New(),
		analyzer:        analyzer,
		logger:          opts.logger,
		metrics:         opts.metricsCollector,
		maxTimelineScan: opts.maxTimelineScan,
	}, nil
}

// rebuildIndexes reconstructs the primary index and the fallback engine from
// the container's committed frames. A primary rebuild failure is not fatal:
// the store degrades to the fallback engine and searches report it in the
// engine label.
func (st *Store) rebuildIndexes() {
	var frames []*frame.Frame
	st.container.Each(func(f *frame.Frame) bool {
		frames = append(frames, f)
		return true
	})
	if err := st.primary.Rebuild(frames); err != nil {
		st.logger.Warn("degrading to lexical fallback", "error", fmt.Errorf("%w: %w", ErrIndexUnavailable, err))
		st.primaryHealthy = false
	} else {
		st.primaryHealthy = true
	}
	for _, f := range frames {
		if f.Status == frame.StatusActive {
			st.fallback.Add(f.ID, parentOf(f), f.SearchText)
		}
	}
}

func parentOf(f *frame.Frame) frame.ID {
	if f.ParentID != nil {
		return *f.ParentID
	}
	return 0
}

// Put appends a new document. The frame is buffered until Commit; with
// InstantIndex set it becomes searchable on this handle immediately.
func (st *Store) Put(payload []byte, opts *PutOptions) (*PutResult, error) {
	start := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()

	result, err := st.container.Put(payload, opts)
	err = translateError(err)
	st.logger.LogPut(resultFrame(result), resultSeq(result), resultChunks(result), result != nil && result.Deduplicated, err)
	st.metrics.RecordPut(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.InstantIndex && !result.Deduplicated {
		st.indexFrames(append([]frame.ID{result.FrameID}, result.Chunks...))
	}
	return result, nil
}

// Update supersedes an Active frame with a new version carrying merged
// metadata and, when payload is non-nil, new content.
func (st *Store) Update(id frame.ID, payload []byte, opts *PutOptions) (*PutResult, error) {
	start := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()

	result, err := st.container.Update(id, payload, opts)
	err = translateError(err)
	st.logger.LogUpdate(id, resultFrame(result), resultSeq(result), err)
	st.metrics.RecordUpdate(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.InstantIndex {
		st.indexFrames(append([]frame.ID{result.FrameID}, result.Chunks...))
	}
	return result, nil
}

// Delete marks an Active frame Deleted. The tombstone becomes durable at the
// next Commit.
func (st *Store) Delete(id frame.ID) (uint64, error) {
	start := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()

	seq, err := st.container.Delete(id)
	err = translateError(err)
	st.logger.LogDelete(id, seq, err)
	st.metrics.RecordDelete(time.Since(start), err)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// Commit makes all buffered operations durable and updates the search
// indexes with the published frames and transitions.
func (st *Store) Commit() (*CommitResult, error) {
	start := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()

	result, err := st.container.Commit()
	err = translateError(err)
	if err != nil {
		st.logger.LogCommit(0, 0, 0, err)
		st.metrics.RecordCommit(0, 0, time.Since(start), err)
		return nil, err
	}
	st.indexFrames(result.NewFrames)
	for _, tr := range result.Transitions {
		st.primary.Retire(tr.Frame, tr.Seq)
		st.fallback.Remove(tr.Frame)
	}
	st.logger.LogCommit(result.Seq, len(result.NewFrames), len(result.Transitions), nil)
	st.metrics.RecordCommit(len(result.NewFrames), len(result.Transitions), time.Since(start), nil)
	return result, nil
}

// indexFrames adds frames to both engines. Adding an already indexed frame
// is a no-op, so instant-indexed frames are not double counted at commit.
func (st *Store) indexFrames(ids []frame.ID) {
	for _, id := range ids {
		f, err := st.container.Frame(id)
		if err != nil {
			continue
		}
		st.primary.Add(f)
		if f.Status == frame.StatusActive {
			st.fallback.Add(f.ID, parentOf(f), f.SearchText)
		}
	}
}

// FrameByID returns the frame with the given id, whatever its status.
func (st *Store) FrameByID(id frame.ID) (*frame.Frame, error) {
	f, err := st.container.Frame(id)
	if err != nil {
		return nil, translateError(err)
	}
	return f, nil
}

// FrameByURI returns the most recent frame carrying the URI, whatever its
// status. The Active owner, when one exists, is always the most recent.
func (st *Store) FrameByURI(uri string) (*frame.Frame, error) {
	f, err := st.container.LatestByURI(uri)
	if err != nil {
		return nil, translateError(err)
	}
	return f, nil
}

// CanonicalPayload returns the stored canonical bytes of a frame after
// checksum verification. The caller decodes per the frame's encoding.
func (st *Store) CanonicalPayload(id frame.ID) ([]byte, error) {
	b, err := st.container.CanonicalPayload(id)
	if err != nil {
		return nil, translateError(err)
	}
	return b, nil
}

// Payload returns the original payload bytes of a frame, decompressed when
// needed.
func (st *Store) Payload(id frame.ID) ([]byte, error) {
	b, err := st.container.Payload(id)
	if err != nil {
		return nil, translateError(err)
	}
	return b, nil
}

// Stats is a snapshot of store state.
type Stats struct {
	Path         string
	ContainerID  uuid.UUID
	CreatedAt    int64
	Frames       int
	ActiveFrames int
	CommittedSeq uint64
	LastSeq      uint64
	IndexedDocs  int
	IndexedTerms int

	// PrimaryHealthy is false when searches run on the fallback engine only.
	PrimaryHealthy bool
}

// Stats returns a snapshot of store state.
func (st *Store) Stats() Stats {
	st.mu.Lock()
	healthy := st.primaryHealthy
	st.mu.Unlock()

	active := 0
	st.container.Each(func(f *frame.Frame) bool {
		if f.Status == frame.StatusActive {
			active++
		}
		return true
	})
	return Stats{
		Path:           st.container.Path(),
		ContainerID:    st.container.ID(),
		CreatedAt:      st.container.CreatedAt(),
		Frames:         st.container.Len(),
		ActiveFrames:   active,
		CommittedSeq:   st.container.CommittedSeq(),
		LastSeq:        st.container.LastSeq(),
		IndexedDocs:    st.primary.Docs(),
		IndexedTerms:   st.primary.Terms(),
		PrimaryHealthy: healthy,
	}
}

// Close releases the container file. Uncommitted operations are discarded.
func (st *Store) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.container.Close()
}

func resultFrame(r *PutResult) uint64 {
	if r == nil {
		return 0
	}
	return r.FrameID
}

func resultSeq(r *PutResult) uint64 {
	if r == nil {
		return 0
	}
	return r.SeqNo
}

func resultChunks(r *PutResult) int {
	if r == nil {
		return 0
	}
	return len(r.Chunks)
}

// Package container implements the append-only .mv2 frame store: a single
// file holding a fixed header followed by a stream of CRC-framed records.
// Frames are immutable once committed; updates and deletes append new frames
// and status transitions instead of rewriting history.
package container

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/mv2db/mv2/frame"
	"github.com/mv2db/mv2/internal/fs"
)

// StatusChange describes one lifecycle transition published by a commit.
type StatusChange struct {
	Frame frame.ID
	From  frame.Status
	To    frame.Status

	// Seq is the sequence number of the operation that made the transition.
	Seq uint64
}

// PutResult identifies the frame produced by a put or update.
type PutResult struct {
	FrameID frame.ID
	SeqNo   uint64

	// Chunks lists the chunk frames created when the document exceeded the
	// chunking threshold.
	Chunks []frame.ID

	// Deduplicated is true when the put was a no-op because an Active frame
	// with the same content digest already existed. FrameID and SeqNo then
	// refer to that existing frame.
	Deduplicated bool
}

// CommitResult describes what a commit made durable.
type CommitResult struct {
	// Seq is the highest sequence number covered by the commit.
	Seq uint64

	// NewFrames lists frames appended since the previous commit, in append
	// order.
	NewFrames []frame.ID

	// Transitions lists status changes applied since the previous commit.
	Transitions []StatusChange
}

// Container is a handle on one .mv2 file.
//
// A container is safe for concurrent use. Writes are buffered in memory and
// in the handle's own view until Commit, which appends them together with a
// commit marker and fsyncs; other handles opened on the same file never
// observe uncommitted records.
type Container struct {
	mu       sync.Mutex
	opts     Options
	path     string
	readOnly bool
	closed   bool

	// failed is set when a commit could not be made durable. The in-memory
	// view may then be ahead of the file, so all further mutations refuse.
	failed error

	file fs.File
	w    *bufio.Writer

	id        uuid.UUID
	createdAt int64

	// frames is the arena of all frames ever appended, in id order:
	// frames[i].ID == uint64(i+1).
	frames     []*frame.Frame
	byURI      map[string]frame.ID // most recent frame carrying the URI, any status
	activeURI  map[string]frame.ID // the Active owner of a URI, if any
	byChecksum map[[frame.ChecksumSize]byte]frame.ID
	children   map[frame.ID][]frame.ID

	nextSeq      uint64
	committedSeq uint64

	pending            bytes.Buffer
	pendingFrames      []frame.ID
	pendingTransitions []StatusChange

	enc *zstd.Encoder
	dec *zstd.Decoder

	now func() int64
}

// Create creates a new container file at path. It fails with
// ErrAlreadyExists when the file exists and overwrite is false.
func Create(path string, overwrite bool, optFns ...func(*Options)) (*Container, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	flag := os.O_RDWR | os.O_CREATE
	if overwrite {
		flag |= os.O_TRUNC
	} else {
		flag |= os.O_EXCL
	}
	file, err := opts.FS.OpenFile(path, flag, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	c, err := newContainer(path, file, opts, false)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	c.id = uuid.New()
	c.createdAt = c.now()
	if err := writeHeader(c.w, headerInfo{ID: c.id, CreatedAt: c.createdAt}); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := c.w.Flush(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write container header: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to sync container header: %w", err)
	}
	return c, nil
}

// Open opens an existing container for reading and writing. The record
// stream is replayed up to the last commit marker; a torn tail past it is
// truncated away.
func Open(path string, optFns ...func(*Options)) (*Container, error) {
	return open(path, false, optFns...)
}

// OpenReadOnly opens an existing container for reading. Mutating operations
// on the handle fail with ErrReadOnly.
func OpenReadOnly(path string, optFns ...func(*Options)) (*Container, error) {
	return open(path, true, optFns...)
}

func open(path string, readOnly bool, optFns ...func(*Options)) (*Container, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	file, err := opts.FS.OpenFile(path, flag, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	c, err := newContainer(path, file, opts, readOnly)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	good, err := c.replay()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if !readOnly {
		// Drop any torn tail so new records never follow garbage.
		if err := file.Truncate(good); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to truncate torn tail: %w", err)
		}
		if _, err := file.Seek(good, io.SeekStart); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to seek to end of record stream: %w", err)
		}
		c.w.Reset(file)
	}
	return c, nil
}

func newContainer(path string, file fs.File, opts Options, readOnly bool) (*Container, error) {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.CompressMin <= 0 {
		opts.CompressMin = DefaultOptions.CompressMin
	}
	if opts.ChunkThreshold <= 0 {
		opts.ChunkThreshold = DefaultOptions.ChunkThreshold
	}
	if opts.CompressionLevel <= 0 {
		opts.CompressionLevel = DefaultOptions.CompressionLevel
	}
	c := &Container{
		opts:       opts,
		path:       path,
		readOnly:   readOnly,
		file:       file,
		byURI:      make(map[string]frame.ID),
		activeURI:  make(map[string]frame.ID),
		byChecksum: make(map[[frame.ChecksumSize]byte]frame.ID),
		children:   make(map[frame.ID][]frame.ID),
		now:        func() int64 { return time.Now().Unix() },
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	c.dec = dec
	if !readOnly {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			dec.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		c.enc = enc
		c.w = bufio.NewWriter(file)
	}
	return c, nil
}

// replay reads the record stream, applying records only when their commit
// marker is reached. It returns the file offset just past the last commit.
func (c *Container) replay() (int64, error) {
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek to header: %w", err)
	}
	br := bufio.NewReader(c.file)
	info, err := readHeader(br)
	if err != nil {
		return 0, err
	}
	c.id = info.ID
	c.createdAt = info.CreatedAt

	var (
		stagedFrames []*frame.Frame
		stagedStatus []statusRecord
		offset       = int64(headerLen)
		good         = int64(headerLen)
	)
	for {
		kind, payload, err := readRecord(br)
		if errors.Is(err, errTornTail) {
			break
		}
		if err != nil {
			return 0, err
		}
		offset += int64(9 + len(payload))
		switch kind {
		case recFrame:
			f, err := decodeFrame(payload)
			if err != nil {
				return 0, err
			}
			stagedFrames = append(stagedFrames, f)
		case recStatus:
			s, err := decodeStatus(payload)
			if err != nil {
				return 0, err
			}
			stagedStatus = append(stagedStatus, s)
		case recCommit:
			rec, err := decodeCommit(payload)
			if err != nil {
				return 0, err
			}
			for _, f := range stagedFrames {
				if err := c.applyFrameLocked(f); err != nil {
					return 0, err
				}
			}
			for _, s := range stagedStatus {
				if err := c.applyStatusLocked(s); err != nil {
					return 0, err
				}
			}
			stagedFrames = stagedFrames[:0]
			stagedStatus = stagedStatus[:0]
			c.committedSeq = rec.SeqNo
			if rec.SeqNo > c.nextSeq {
				c.nextSeq = rec.SeqNo
			}
			good = offset
		default:
			return 0, fmt.Errorf("%w: unknown record kind %d", ErrCorrupt, kind)
		}
	}
	return good, nil
}

func (c *Container) applyFrameLocked(f *frame.Frame) error {
	if f.ID != uint64(len(c.frames))+1 {
		return fmt.Errorf("%w: frame id %d out of append order", ErrCorrupt, f.ID)
	}
	c.frames = append(c.frames, f)
	if f.URI != "" {
		c.byURI[f.URI] = f.ID
		if f.Status == frame.StatusActive {
			c.activeURI[f.URI] = f.ID
		}
	}
	if f.Status == frame.StatusActive && !f.IsChunk() {
		c.byChecksum[f.Checksum] = f.ID
	}
	if f.ParentID != nil {
		c.children[*f.ParentID] = append(c.children[*f.ParentID], f.ID)
	}
	if f.SeqNo > c.nextSeq {
		c.nextSeq = f.SeqNo
	}
	return nil
}

func (c *Container) applyStatusLocked(s statusRecord) error {
	if s.Frame == 0 || s.Frame > uint64(len(c.frames)) {
		return fmt.Errorf("%w: status record for unknown frame %d", ErrCorrupt, s.Frame)
	}
	f := c.frames[s.Frame-1]
	prev := f.Status
	f.Status = s.To
	if prev == frame.StatusActive && s.To != frame.StatusActive {
		f.RetiredSeq = s.SeqNo
		if f.URI != "" && c.activeURI[f.URI] == f.ID {
			delete(c.activeURI, f.URI)
		}
		if c.byChecksum[f.Checksum] == f.ID {
			delete(c.byChecksum, f.Checksum)
		}
	}
	if s.SeqNo > c.nextSeq {
		c.nextSeq = s.SeqNo
	}
	return nil
}

// Put appends a new Active document frame. Large documents are split into
// chunk frames sharing the put's sequence number. The frame is visible to
// this handle immediately and becomes durable at the next Commit.
func (c *Container) Put(payload []byte, opts *PutOptions) (*PutResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &PutOptions{}
	}
	if err := c.validatePut(payload, opts); err != nil {
		return nil, err
	}
	searchText := opts.SearchText
	if searchText == "" && utf8.Valid(payload) {
		searchText = string(payload)
	}

	canonical, encoding, canonLen, digest := c.canonicalizeLocked(payload, searchText, opts)

	if opts.Dedup {
		if id, ok := c.byChecksum[digest]; ok {
			return &PutResult{FrameID: id, SeqNo: c.frames[id-1].SeqNo, Deduplicated: true}, nil
		}
	}
	if opts.URI != "" {
		if _, ok := c.activeURI[opts.URI]; ok {
			return nil, fmt.Errorf("%w: %q", ErrURIConflict, opts.URI)
		}
	}

	seq := c.nextSeq + 1
	ts := c.now()
	if opts.Timestamp != nil {
		ts = *opts.Timestamp
	}
	md := opts.Metadata
	if opts.SourcePath != "" {
		if md == nil {
			md = &frame.DocMetadata{}
		} else {
			cp := *md
			cp.Entities = append([]frame.Entity(nil), md.Entities...)
			md = &cp
		}
		md.SourcePath = opts.SourcePath
	}

	parent := &frame.Frame{
		SeqNo:           seq,
		Timestamp:       ts,
		Role:            frame.RoleDocument,
		Status:          frame.StatusActive,
		Encoding:        encoding,
		CanonicalLength: canonLen,
		PayloadLength:   uint64(len(payload)),
		Checksum:        digest,
		URI:             opts.URI,
		Title:           opts.Title,
		Kind:            opts.Kind,
		Track:           opts.Track,
		Tags:            append([]string(nil), opts.Tags...),
		Labels:          append([]string(nil), opts.Labels...),
		ExtraMetadata:   cloneStringMap(opts.ExtraMetadata),
		ContentDates:    append([]string(nil), opts.ContentDates...),
		SearchText:      searchText,
		Metadata:        md,
		Canonical:       canonical,
	}

	var chunkTexts []string
	if len(searchText) > c.opts.ChunkThreshold {
		chunkTexts = splitChunks(searchText, c.opts.ChunkThreshold)
		// Chunks carry the text for indexing; the parent keeps only the
		// frame-level metadata and the payload bytes.
		parent.SearchText = ""
		parent.ChunkCount = uint32(len(chunkTexts))
	}

	if err := c.appendFrameLocked(parent); err != nil {
		return nil, err
	}
	result := &PutResult{FrameID: parent.ID, SeqNo: seq}
	for i, text := range chunkTexts {
		pid := parent.ID
		chunk := &frame.Frame{
			SeqNo:      seq,
			Timestamp:  ts,
			Role:       frame.RoleDocumentChunk,
			Status:     frame.StatusActive,
			Track:      parent.Track,
			Kind:       parent.Kind,
			Tags:       append([]string(nil), parent.Tags...),
			Labels:     append([]string(nil), parent.Labels...),
			ParentID:   &pid,
			ChunkIndex: uint32(i),
			ChunkCount: uint32(len(chunkTexts)),
			SearchText: text,
		}
		chunk.Checksum = sha256.Sum256([]byte(text))
		if err := c.appendFrameLocked(chunk); err != nil {
			return nil, err
		}
		result.Chunks = append(result.Chunks, chunk.ID)
	}
	c.nextSeq = seq
	return result, nil
}

// Update supersedes an Active frame with a new version. The new frame and
// the Superseded transition of the old one share a single sequence number,
// so a commit publishes them atomically. A nil payload keeps the old
// frame's payload bytes and reuses its search text unless overridden.
func (c *Container) Update(id frame.ID, payload []byte, opts *PutOptions) (*PutResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return nil, err
	}
	old, err := c.frameLocked(id)
	if err != nil {
		return nil, err
	}
	if old.Status != frame.StatusActive {
		return nil, fmt.Errorf("%w: frame %d is %s", ErrFrameNotFound, id, old.Status)
	}
	if opts == nil {
		opts = &PutOptions{}
	}
	if payload != nil {
		if err := c.validatePut(payload, opts); err != nil {
			return nil, err
		}
	}

	next := &frame.Frame{
		Role:          frame.RoleDocument,
		Status:        frame.StatusActive,
		URI:           old.URI,
		Title:         old.Title,
		Kind:          old.Kind,
		Track:         old.Track,
		Tags:          append([]string(nil), old.Tags...),
		Labels:        append([]string(nil), old.Labels...),
		ExtraMetadata: cloneStringMap(old.ExtraMetadata),
		ContentDates:  append([]string(nil), old.ContentDates...),
	}
	if old.Metadata != nil {
		md := *old.Metadata
		md.Entities = append([]frame.Entity(nil), old.Metadata.Entities...)
		next.Metadata = &md
	}
	if opts.URI != "" {
		next.URI = opts.URI
	}
	if opts.Title != "" {
		next.Title = opts.Title
	}
	if opts.Kind != "" {
		next.Kind = opts.Kind
	}
	if opts.Track != "" {
		next.Track = opts.Track
	}
	if opts.Tags != nil {
		next.Tags = append([]string(nil), opts.Tags...)
	}
	if opts.Labels != nil {
		next.Labels = append([]string(nil), opts.Labels...)
	}
	if opts.ExtraMetadata != nil {
		next.ExtraMetadata = cloneStringMap(opts.ExtraMetadata)
	}
	if opts.ContentDates != nil {
		next.ContentDates = append([]string(nil), opts.ContentDates...)
	}
	if opts.Metadata != nil {
		md := *opts.Metadata
		md.Entities = append([]frame.Entity(nil), opts.Metadata.Entities...)
		next.Metadata = &md
	}

	if payload != nil {
		searchText := opts.SearchText
		if searchText == "" && utf8.Valid(payload) {
			searchText = string(payload)
		}
		canonical, encoding, canonLen, digest := c.canonicalizeLocked(payload, searchText, opts)
		next.Encoding = encoding
		next.CanonicalLength = canonLen
		next.PayloadLength = uint64(len(payload))
		next.Checksum = digest
		next.Canonical = canonical
		next.SearchText = searchText
	} else {
		next.Encoding = old.Encoding
		next.CanonicalLength = old.CanonicalLength
		next.PayloadLength = old.PayloadLength
		next.Checksum = old.Checksum
		next.Canonical = append([]byte(nil), old.Canonical...)
		if old.Canonical == nil {
			next.Canonical = nil
		}
		next.SearchText = old.SearchText
		if old.ChunkCount > 0 && next.SearchText == "" {
			// Chunked parents carry no text of their own; reassemble it from
			// the chunk frames so the replacement keeps the full content.
			var b strings.Builder
			for _, cid := range c.children[old.ID] {
				b.WriteString(c.frames[cid-1].SearchText)
			}
			next.SearchText = b.String()
		}
		if opts.SearchText != "" {
			next.SearchText = opts.SearchText
		}
	}
	if next.URI != "" {
		if owner, ok := c.activeURI[next.URI]; ok && owner != old.ID {
			return nil, fmt.Errorf("%w: %q", ErrURIConflict, next.URI)
		}
	}

	seq := c.nextSeq + 1
	ts := c.now()
	if opts.Timestamp != nil {
		ts = *opts.Timestamp
	}
	next.SeqNo = seq
	next.Timestamp = ts

	var chunkTexts []string
	if len(next.SearchText) > c.opts.ChunkThreshold {
		chunkTexts = splitChunks(next.SearchText, c.opts.ChunkThreshold)
		next.SearchText = ""
		next.ChunkCount = uint32(len(chunkTexts))
	}

	// The Active replacement is appended before the Superseded transition so
	// URI ownership moves without a gap.
	if err := c.appendFrameLocked(next); err != nil {
		return nil, err
	}
	result := &PutResult{FrameID: next.ID, SeqNo: seq}
	for i, text := range chunkTexts {
		pid := next.ID
		chunk := &frame.Frame{
			SeqNo:      seq,
			Timestamp:  ts,
			Role:       frame.RoleDocumentChunk,
			Status:     frame.StatusActive,
			Track:      next.Track,
			Kind:       next.Kind,
			Tags:       append([]string(nil), next.Tags...),
			Labels:     append([]string(nil), next.Labels...),
			ParentID:   &pid,
			ChunkIndex: uint32(i),
			ChunkCount: uint32(len(chunkTexts)),
			SearchText: text,
		}
		chunk.Checksum = sha256.Sum256([]byte(text))
		if err := c.appendFrameLocked(chunk); err != nil {
			return nil, err
		}
		result.Chunks = append(result.Chunks, chunk.ID)
	}

	if err := c.appendStatusLocked(old.ID, frame.StatusSuperseded, seq, ts); err != nil {
		return nil, err
	}
	for _, cid := range c.children[old.ID] {
		if c.frames[cid-1].Status == frame.StatusActive {
			if err := c.appendStatusLocked(cid, frame.StatusSuperseded, seq, ts); err != nil {
				return nil, err
			}
		}
	}
	c.nextSeq = seq
	return result, nil
}

// Delete marks an Active frame Deleted. The frame's records stay in the
// file; only its lifecycle state changes. Chunk frames of the document are
// deleted with it.
func (c *Container) Delete(id frame.ID) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return 0, err
	}
	f, err := c.frameLocked(id)
	if err != nil {
		return 0, err
	}
	if f.Status != frame.StatusActive {
		return 0, fmt.Errorf("%w: frame %d is %s", ErrFrameNotFound, id, f.Status)
	}
	seq := c.nextSeq + 1
	ts := c.now()
	if err := c.appendStatusLocked(id, frame.StatusDeleted, seq, ts); err != nil {
		return 0, err
	}
	for _, cid := range c.children[id] {
		if c.frames[cid-1].Status == frame.StatusActive {
			if err := c.appendStatusLocked(cid, frame.StatusDeleted, seq, ts); err != nil {
				return 0, err
			}
		}
	}
	c.nextSeq = seq
	return seq, nil
}

// Commit appends all buffered records followed by a commit marker, flushes
// and fsyncs. On success every operation since the previous commit is
// durable and visible to new handles. With nothing pending it is a no-op.
func (c *Container) Commit() (*CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writableLocked(); err != nil {
		return nil, err
	}
	if c.pending.Len() == 0 {
		return &CommitResult{Seq: c.committedSeq}, nil
	}
	rec := commitRecord{
		SeqNo:     c.nextSeq,
		Timestamp: c.now(),
		Ops:       uint32(len(c.pendingFrames) + len(c.pendingTransitions)),
	}
	if _, err := c.w.Write(c.pending.Bytes()); err != nil {
		c.failed = fmt.Errorf("commit write failed: %w", err)
		return nil, c.failed
	}
	if err := writeRecord(c.w, recCommit, encodeCommit(rec)); err != nil {
		c.failed = fmt.Errorf("commit write failed: %w", err)
		return nil, c.failed
	}
	if err := c.w.Flush(); err != nil {
		c.failed = fmt.Errorf("commit flush failed: %w", err)
		return nil, c.failed
	}
	if err := c.file.Sync(); err != nil {
		c.failed = fmt.Errorf("commit sync failed: %w", err)
		return nil, c.failed
	}
	c.committedSeq = c.nextSeq
	result := &CommitResult{
		Seq:         c.committedSeq,
		NewFrames:   append([]frame.ID(nil), c.pendingFrames...),
		Transitions: append([]StatusChange(nil), c.pendingTransitions...),
	}
	c.pending.Reset()
	c.pendingFrames = c.pendingFrames[:0]
	c.pendingTransitions = c.pendingTransitions[:0]
	return result, nil
}

// Frame returns a copy of the frame with the given id, whatever its status.
func (c *Container) Frame(id frame.ID) (*frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.frameLocked(id)
	if err != nil {
		return nil, err
	}
	return f.Clone(), nil
}

// LatestByURI returns the most recent frame carrying the URI, whatever its
// status.
func (c *Container) LatestByURI(uri string) (*frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byURI[uri]
	if !ok {
		return nil, fmt.Errorf("%w: uri %q", ErrFrameNotFound, uri)
	}
	return c.frames[id-1].Clone(), nil
}

// ActiveByURI returns the Active owner of the URI.
func (c *Container) ActiveByURI(uri string) (*frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.activeURI[uri]
	if !ok {
		return nil, fmt.Errorf("%w: no active frame for uri %q", ErrFrameNotFound, uri)
	}
	return c.frames[id-1].Clone(), nil
}

// CanonicalPayload returns the stored canonical bytes of a frame after
// verifying them against the frame's digest.
func (c *Container) CanonicalPayload(id frame.ID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.frameLocked(id)
	if err != nil {
		return nil, err
	}
	if f.Canonical == nil {
		if f.PayloadLength > 0 || f.SearchText != "" {
			return nil, fmt.Errorf("%w: frame %d", ErrPayloadOmitted, id)
		}
		return nil, nil
	}
	actual := sha256.Sum256(f.Canonical)
	if actual != f.Checksum {
		return nil, &ChecksumMismatchError{Frame: id, Expected: f.Checksum, Actual: actual}
	}
	return append([]byte(nil), f.Canonical...), nil
}

// Payload returns the original payload bytes of a frame, decompressing the
// canonical form when needed.
func (c *Container) Payload(id frame.ID) ([]byte, error) {
	canonical, err := c.CanonicalPayload(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	f := c.frames[id-1]
	encoding := f.Encoding
	size := f.PayloadLength
	dec := c.dec
	c.mu.Unlock()
	if encoding != frame.EncodingZstd {
		return canonical, nil
	}
	out, err := dec.DecodeAll(canonical, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: frame %d: zstd: %w", ErrCorrupt, id, err)
	}
	return out, nil
}

// Each calls fn for every frame in id order until fn returns false. The
// callback must treat the frame as read-only and must not call back into the
// container.
func (c *Container) Each(fn func(f *frame.Frame) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.frames {
		if !fn(f) {
			return
		}
	}
}

// Children returns the ids of frames whose parent is id.
func (c *Container) Children(id frame.ID) []frame.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.ID(nil), c.children[id]...)
}

// Len returns the number of frames ever appended, any status.
func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// LastSeq returns the highest sequence number assigned by this handle,
// committed or not.
func (c *Container) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSeq
}

// CommittedSeq returns the highest sequence number made durable.
func (c *Container) CommittedSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committedSeq
}

// ID returns the container's identity, assigned at creation.
func (c *Container) ID() uuid.UUID { return c.id }

// CreatedAt returns the container's creation time (unix seconds).
func (c *Container) CreatedAt() int64 { return c.createdAt }

// Path returns the container file path.
func (c *Container) Path() string { return c.path }

// ReadOnly reports whether the handle was opened read-only.
func (c *Container) ReadOnly() bool { return c.readOnly }

// Close releases the file handle. Uncommitted operations are discarded; they
// were never written to the file.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.enc != nil {
		_ = c.enc.Close()
	}
	c.dec.Close()
	return c.file.Close()
}

func (c *Container) writableLocked() error {
	if c.closed {
		return errors.New("container is closed")
	}
	if c.readOnly {
		return ErrReadOnly
	}
	if c.failed != nil {
		return c.failed
	}
	return nil
}

func (c *Container) frameLocked(id frame.ID) (*frame.Frame, error) {
	if c.closed {
		return nil, errors.New("container is closed")
	}
	if id == 0 || id > uint64(len(c.frames)) {
		return nil, fmt.Errorf("%w: id %d", ErrFrameNotFound, id)
	}
	return c.frames[id-1], nil
}

func (c *Container) validatePut(payload []byte, opts *PutOptions) error {
	if len(payload) == 0 && opts.SearchText == "" {
		return fmt.Errorf("%w: empty payload and no search text", ErrInvalidOptions)
	}
	if opts.Compress != nil && *opts.Compress && c.opts.DisableCompression {
		return fmt.Errorf("%w: compression forced on a container created without compression", ErrInvalidOptions)
	}
	if opts.NoRaw && opts.SearchText == "" && !utf8.Valid(payload) {
		return fmt.Errorf("%w: no_raw requires search text for binary payloads", ErrInvalidOptions)
	}
	if opts.ExtractionBudget > 0 && !opts.AutoTag && !opts.ExtractDates && !opts.ExtractTriplets && !opts.EnableEmbedding {
		return fmt.Errorf("%w: extraction budget without an extraction toggle", ErrInvalidOptions)
	}
	return nil
}

// canonicalizeLocked derives the stored form of a payload: the canonical
// bytes (nil when no_raw), their encoding and compressed length, and the
// content digest used for integrity checks and dedup.
func (c *Container) canonicalizeLocked(payload []byte, searchText string, opts *PutOptions) ([]byte, frame.CanonicalEncoding, uint64, [frame.ChecksumSize]byte) {
	if opts.NoRaw {
		content := payload
		if len(content) == 0 {
			content = []byte(searchText)
		}
		return nil, frame.EncodingPlain, 0, sha256.Sum256(content)
	}
	canonical := payload
	if canonical == nil {
		canonical = []byte{}
	}
	encoding := frame.EncodingPlain
	var canonLen uint64

	compress := !c.opts.DisableCompression
	if opts.Compress != nil {
		compress = *opts.Compress
	}
	if compress && len(payload) >= c.opts.CompressMin {
		z := c.enc.EncodeAll(payload, nil)
		if len(z) < len(payload) {
			canonical = z
			encoding = frame.EncodingZstd
			canonLen = uint64(len(z))
		}
	}
	return canonical, encoding, canonLen, sha256.Sum256(canonical)
}

func (c *Container) appendFrameLocked(f *frame.Frame) error {
	f.ID = uint64(len(c.frames)) + 1
	if err := writeRecord(&c.pending, recFrame, encodeFrame(f)); err != nil {
		return err
	}
	if err := c.applyFrameLocked(f); err != nil {
		return err
	}
	c.pendingFrames = append(c.pendingFrames, f.ID)
	return nil
}

func (c *Container) appendStatusLocked(id frame.ID, to frame.Status, seq uint64, ts int64) error {
	from := c.frames[id-1].Status
	s := statusRecord{Frame: id, To: to, SeqNo: seq, Timestamp: ts}
	if err := writeRecord(&c.pending, recStatus, encodeStatus(s)); err != nil {
		return err
	}
	if err := c.applyStatusLocked(s); err != nil {
		return err
	}
	c.pendingTransitions = append(c.pendingTransitions, StatusChange{Frame: id, From: from, To: to, Seq: seq})
	return nil
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// splitChunks slices text into pieces of at most limit bytes, cutting at the
// last whitespace boundary in the window when one exists past its midpoint,
// otherwise at a rune boundary.
func splitChunks(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if ws := lastSpace(text[:cut]); ws > limit/2 {
			cut = ws
		}
		if cut == 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] < utf8.RuneSelf && unicode.IsSpace(rune(s[i])) {
			return i + 1
		}
	}
	return -1
}

package container

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mv2db/mv2/frame"
	"github.com/mv2db/mv2/internal/fs"
)

func testPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.mv2")
}

func TestCreateAlreadyExists(t *testing.T) {
	path := testPath(t)
	c, err := Create(path, false)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = Create(path, false)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	c, err = Create(path, true)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mv2"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutRoundTripPlain(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	payload := []byte("hello world")
	result, err := c.Put(payload, &PutOptions{URI: "u1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.FrameID)
	assert.Equal(t, uint64(1), result.SeqNo)
	assert.Empty(t, result.Chunks)

	f, err := c.Frame(result.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusActive, f.Status)
	assert.Equal(t, frame.EncodingPlain, f.Encoding)
	assert.Equal(t, uint64(len(payload)), f.PayloadLength)

	got, err := c.Payload(result.FrameID)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	canonical, err := c.CanonicalPayload(result.FrameID)
	require.NoError(t, err)
	assert.Equal(t, payload, canonical)
}

func TestPutRoundTripZstd(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	payload := []byte(strings.Repeat("compressible text block ", 200))
	result, err := c.Put(payload, nil)
	require.NoError(t, err)

	f, err := c.Frame(result.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.EncodingZstd, f.Encoding)
	assert.Less(t, f.CanonicalLength, f.PayloadLength)

	got, err := c.Payload(result.FrameID)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Canonical bytes differ from the original but verify against the
	// stored digest.
	canonical, err := c.CanonicalPayload(result.FrameID)
	require.NoError(t, err)
	assert.NotEqual(t, payload, canonical)
}

func TestPutNoRaw(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	result, err := c.Put([]byte("original text"), &PutOptions{NoRaw: true})
	require.NoError(t, err)

	_, err = c.CanonicalPayload(result.FrameID)
	assert.ErrorIs(t, err, ErrPayloadOmitted)

	f, err := c.Frame(result.FrameID)
	require.NoError(t, err)
	assert.Equal(t, "original text", f.SearchText)
}

func TestPutValidation(t *testing.T) {
	c, err := Create(testPath(t), false, func(o *Options) {
		o.DisableCompression = true
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Put(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidOptions)

	force := true
	_, err = c.Put([]byte("x"), &PutOptions{Compress: &force})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = c.Put([]byte{0xff, 0xfe, 0x00}, &PutOptions{NoRaw: true})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = c.Put([]byte("x"), &PutOptions{ExtractionBudget: 50})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestURIConflict(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Put([]byte("first"), &PutOptions{URI: "u1"})
	require.NoError(t, err)

	_, err = c.Put([]byte("second"), &PutOptions{URI: "u1"})
	assert.ErrorIs(t, err, ErrURIConflict)
}

func TestDedup(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Put([]byte("same content"), &PutOptions{URI: "u1", Dedup: true})
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)

	second, err := c.Put([]byte("same content"), &PutOptions{URI: "u2", Dedup: true})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.FrameID, second.FrameID)
	assert.Equal(t, first.SeqNo, second.SeqNo)
	assert.Equal(t, 1, c.Len())

	// Without dedup the same content appends a new frame.
	third, err := c.Put([]byte("same content"), nil)
	require.NoError(t, err)
	assert.False(t, third.Deduplicated)
	assert.NotEqual(t, first.FrameID, third.FrameID)
}

func TestMonotonicSeq(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	var last uint64
	for i := 0; i < 5; i++ {
		result, err := c.Put([]byte("doc "+string(rune('a'+i))), nil)
		require.NoError(t, err)
		assert.Greater(t, result.SeqNo, last)
		last = result.SeqNo
	}

	result, err := c.Update(1, []byte("v2"), nil)
	require.NoError(t, err)
	assert.Greater(t, result.SeqNo, last)
	last = result.SeqNo

	seq, err := c.Delete(2)
	require.NoError(t, err)
	assert.Greater(t, seq, last)
}

func TestUpdateSupersession(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	orig, err := c.Put([]byte("v1"), &PutOptions{URI: "u1", Title: "original", Tags: []string{"keep"}})
	require.NoError(t, err)

	next, err := c.Update(orig.FrameID, []byte("v2"), &PutOptions{Title: "revised"})
	require.NoError(t, err)
	assert.NotEqual(t, orig.FrameID, next.FrameID)

	old, err := c.Frame(orig.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusSuperseded, old.Status)

	cur, err := c.ActiveByURI("u1")
	require.NoError(t, err)
	assert.Equal(t, next.FrameID, cur.ID)
	assert.Equal(t, "revised", cur.Title)
	assert.Equal(t, []string{"keep"}, cur.Tags)

	payload, err := c.Payload(next.FrameID)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), payload)

	// The superseded frame is terminal.
	_, err = c.Update(orig.FrameID, []byte("v3"), nil)
	assert.ErrorIs(t, err, ErrFrameNotFound)
}

func TestUpdateMetadataOnly(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	orig, err := c.Put([]byte("content stays"), &PutOptions{URI: "u1"})
	require.NoError(t, err)

	next, err := c.Update(orig.FrameID, nil, &PutOptions{Tags: []string{"new-tag"}})
	require.NoError(t, err)

	payload, err := c.Payload(next.FrameID)
	require.NoError(t, err)
	assert.Equal(t, []byte("content stays"), payload)

	f, err := c.Frame(next.FrameID)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-tag"}, f.Tags)
	assert.Equal(t, "content stays", f.SearchText)
}

func TestUpdateMetadataOnlyChunked(t *testing.T) {
	c, err := Create(testPath(t), false, func(o *Options) {
		o.ChunkThreshold = 64
	})
	require.NoError(t, err)
	defer c.Close()

	text := strings.Repeat("lorem ipsum dolor sit amet ", 20)
	orig, err := c.Put([]byte(text), &PutOptions{URI: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, orig.Chunks)

	// A nil payload must not drop the content carried by the chunk frames.
	next, err := c.Update(orig.FrameID, nil, &PutOptions{Tags: []string{"x"}})
	require.NoError(t, err)
	require.NotEmpty(t, next.Chunks)

	var rebuilt strings.Builder
	for _, id := range next.Chunks {
		chunk, err := c.Frame(id)
		require.NoError(t, err)
		rebuilt.WriteString(chunk.SearchText)
	}
	assert.Equal(t, text, rebuilt.String())

	f, err := c.Frame(next.FrameID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, f.Tags)
	assert.Equal(t, uint32(len(next.Chunks)), f.ChunkCount)

	for _, id := range orig.Chunks {
		chunk, err := c.Frame(id)
		require.NoError(t, err)
		assert.Equal(t, frame.StatusSuperseded, chunk.Status)
	}
}

func TestRetiredSeqSurvivesReplay(t *testing.T) {
	path := testPath(t)
	c, err := Create(path, false)
	require.NoError(t, err)

	orig, err := c.Put([]byte("v1"), &PutOptions{URI: "u1"})
	require.NoError(t, err)
	next, err := c.Update(orig.FrameID, []byte("v2"), nil)
	require.NoError(t, err)
	_, err = c.Commit()
	require.NoError(t, err)

	old, err := c.Frame(orig.FrameID)
	require.NoError(t, err)
	assert.Equal(t, next.SeqNo, old.RetiredSeq)
	require.NoError(t, c.Close())

	re, err := Open(path)
	require.NoError(t, err)
	defer re.Close()

	old, err = re.Frame(orig.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusSuperseded, old.Status)
	assert.Equal(t, next.SeqNo, old.RetiredSeq)

	cur, err := re.Frame(next.FrameID)
	require.NoError(t, err)
	assert.Zero(t, cur.RetiredSeq)
}

func TestDeleteTombstone(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	result, err := c.Put([]byte("doomed"), &PutOptions{URI: "u1"})
	require.NoError(t, err)

	_, err = c.Delete(result.FrameID)
	require.NoError(t, err)

	f, err := c.Frame(result.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusDeleted, f.Status)

	// The record is retained, only excluded from the active view.
	_, err = c.ActiveByURI("u1")
	assert.ErrorIs(t, err, ErrFrameNotFound)
	latest, err := c.LatestByURI("u1")
	require.NoError(t, err)
	assert.Equal(t, result.FrameID, latest.ID)

	_, err = c.Delete(result.FrameID)
	assert.ErrorIs(t, err, ErrFrameNotFound)
}

func TestChunking(t *testing.T) {
	c, err := Create(testPath(t), false, func(o *Options) {
		o.ChunkThreshold = 64
	})
	require.NoError(t, err)
	defer c.Close()

	text := strings.Repeat("lorem ipsum dolor sit amet ", 20)
	result, err := c.Put([]byte(text), nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)

	parent, err := c.Frame(result.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.RoleDocument, parent.Role)
	assert.Equal(t, uint32(len(result.Chunks)), parent.ChunkCount)
	assert.Empty(t, parent.SearchText)

	var rebuilt strings.Builder
	for i, id := range result.Chunks {
		chunk, err := c.Frame(id)
		require.NoError(t, err)
		assert.Equal(t, frame.RoleDocumentChunk, chunk.Role)
		assert.Equal(t, result.SeqNo, chunk.SeqNo)
		require.NotNil(t, chunk.ParentID)
		assert.Equal(t, result.FrameID, *chunk.ParentID)
		assert.Equal(t, uint32(i), chunk.ChunkIndex)
		assert.Equal(t, uint32(len(result.Chunks)), chunk.ChunkCount)
		assert.LessOrEqual(t, len(chunk.SearchText), 64)
		rebuilt.WriteString(chunk.SearchText)
	}
	assert.Equal(t, text, rebuilt.String())
	assert.Equal(t, result.Chunks, c.Children(result.FrameID))
}

func TestCommitVisibility(t *testing.T) {
	path := testPath(t)
	c, err := Create(path, false)
	require.NoError(t, err)
	defer c.Close()

	put1, err := c.Put([]byte("committed"), nil)
	require.NoError(t, err)
	commit, err := c.Commit()
	require.NoError(t, err)
	assert.Equal(t, put1.SeqNo, commit.Seq)
	assert.Equal(t, []frame.ID{put1.FrameID}, commit.NewFrames)

	_, err = c.Put([]byte("uncommitted"), nil)
	require.NoError(t, err)

	// A fresh read-only handle sees only the committed frame.
	r, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, put1.SeqNo, r.CommittedSeq())

	got, err := r.Payload(put1.FrameID)
	require.NoError(t, err)
	assert.Equal(t, []byte("committed"), got)
}

func TestCommitEmptyIsNoop(t *testing.T) {
	c, err := Create(testPath(t), false)
	require.NoError(t, err)
	defer c.Close()

	result, err := c.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.Seq)
	assert.Empty(t, result.NewFrames)
}

func TestReopenReplaysCommitted(t *testing.T) {
	path := testPath(t)
	c, err := Create(path, false)
	require.NoError(t, err)

	put1, err := c.Put([]byte("one"), &PutOptions{URI: "u1"})
	require.NoError(t, err)
	put2, err := c.Put([]byte("two"), &PutOptions{URI: "u2"})
	require.NoError(t, err)
	_, err = c.Commit()
	require.NoError(t, err)
	_, err = c.Delete(put1.FrameID)
	require.NoError(t, err)
	_, err = c.Commit()
	require.NoError(t, err)
	id := c.ID()
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, id, c.ID())
	assert.Equal(t, 2, c.Len())

	f1, err := c.Frame(put1.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusDeleted, f1.Status)
	f2, err := c.Frame(put2.FrameID)
	require.NoError(t, err)
	assert.Equal(t, frame.StatusActive, f2.Status)

	// Writes continue from the replayed sequence.
	put3, err := c.Put([]byte("three"), nil)
	require.NoError(t, err)
	assert.Greater(t, put3.SeqNo, c.CommittedSeq())
}

func TestTornTailRecovery(t *testing.T) {
	path := testPath(t)
	c, err := Create(path, false)
	require.NoError(t, err)
	put1, err := c.Put([]byte("durable"), nil)
	require.NoError(t, err)
	_, err = c.Commit()
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// Simulate a crash mid-commit: garbage after the last commit marker.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = file.Write([]byte{0x01, 0xde, 0xad, 0xbe})
	require.NoError(t, err)
	require.NoError(t, file.Close())
	before, err := os.Stat(path)
	require.NoError(t, err)

	c, err = Open(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	got, err := c.Payload(put1.FrameID)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)

	// The torn tail was truncated away and new commits append cleanly.
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.Size()-4, after.Size())

	_, err = c.Put([]byte("after crash"), nil)
	require.NoError(t, err)
	_, err = c.Commit()
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 2, c.Len())
}

func TestCommitFailureMarksHandle(t *testing.T) {
	faulty := fs.NewFaulty(-1)
	c, err := Create(testPath(t), false, func(o *Options) {
		o.FS = faulty
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Put([]byte("doomed commit"), nil)
	require.NoError(t, err)

	faulty.FailSync = true
	_, err = c.Commit()
	require.ErrorIs(t, err, fs.ErrInjected)

	// The handle refuses further mutations once durability is uncertain.
	_, err = c.Put([]byte("more"), nil)
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestReadOnlyRejectsMutation(t *testing.T) {
	path := testPath(t)
	c, err := Create(path, false)
	require.NoError(t, err)
	_, err = c.Put([]byte("doc"), nil)
	require.NoError(t, err)
	_, err = c.Commit()
	require.NoError(t, err)
	require.NoError(t, c.Close())

	r, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Put([]byte("nope"), nil)
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = r.Delete(1)
	assert.ErrorIs(t, err, ErrReadOnly)
	_, err = r.Commit()
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestChecksumMismatchError(t *testing.T) {
	err := &ChecksumMismatchError{Frame: 3}
	err.Expected[0] = 0xaa
	err.Actual[0] = 0xbb
	assert.Contains(t, err.Error(), "frame 3")
	assert.Contains(t, err.Error(), "aa")
	assert.Contains(t, err.Error(), "bb")
}

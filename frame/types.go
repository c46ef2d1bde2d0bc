package frame

// ID is the stable, user-facing identifier of a frame.
// IDs are assigned at append time, strictly increase with append order and
// are never reused.
type ID = uint64

// Role classifies what a frame's payload represents.
type Role uint8

const (
	// RoleDocument is a whole ingested document.
	RoleDocument Role = iota
	// RoleDocumentChunk is a slice of a parent document, produced when the
	// document exceeds the chunking threshold.
	RoleDocumentChunk
	// RoleExtractedImage is a sub-object extracted from a document.
	RoleExtractedImage
)

func (r Role) String() string {
	switch r {
	case RoleDocument:
		return "document"
	case RoleDocumentChunk:
		return "document_chunk"
	case RoleExtractedImage:
		return "extracted_image"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a frame.
//
// The only legal transitions are Active -> Superseded (on update) and
// Active -> Deleted (on delete). Superseded and Deleted are terminal.
type Status uint8

const (
	StatusActive Status = iota
	StatusSuperseded
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSuperseded:
		return "superseded"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition out of s is allowed.
func (s Status) Terminal() bool {
	return s == StatusSuperseded || s == StatusDeleted
}

// CanonicalEncoding describes how the stored canonical payload bytes are
// compressed.
type CanonicalEncoding uint8

const (
	EncodingPlain CanonicalEncoding = iota
	EncodingZstd
)

func (e CanonicalEncoding) String() string {
	switch e {
	case EncodingPlain:
		return "plain"
	case EncodingZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ChecksumSize is the width of the frame content digest (SHA-256).
const ChecksumSize = 32

// DocMetadata is structured document metadata carried alongside a frame.
// Entities are asserted by upstream extraction and not validated here.
type DocMetadata struct {
	MimeType   string
	SourcePath string
	Entities   []Entity
}

// Entity is a named entity detected in a frame's text by upstream
// extraction. Confidence, when present, is in [0, 1].
type Entity struct {
	Name       string
	Kind       string
	Confidence *float32
}

// Frame is one versioned, checksummed record in the store.
//
// Committed frames are immutable: updates and deletes append new records or
// status transitions, never mutate payload bytes in place.
type Frame struct {
	ID        ID
	SeqNo     uint64
	Timestamp int64
	Role      Role
	Status    Status

	// RetiredSeq is the sequence number of the transition that ended the
	// frame's Active life, zero while Active. It is derived from status
	// transitions, not stored in the frame record itself.
	RetiredSeq uint64

	Encoding        CanonicalEncoding
	CanonicalLength uint64
	PayloadLength   uint64
	Checksum        [ChecksumSize]byte

	URI   string
	Title string
	Kind  string
	Track string

	Tags          []string
	Labels        []string
	ExtraMetadata map[string]string
	ContentDates  []string

	ParentID   *ID
	ChunkIndex uint32
	ChunkCount uint32

	SearchText string
	Metadata   *DocMetadata

	// Canonical holds the stored (possibly compressed) payload bytes.
	Canonical []byte
}

// IsChunk reports whether the frame is a chunk of a parent document.
func (f *Frame) IsChunk() bool {
	return f.Role == RoleDocumentChunk && f.ParentID != nil
}

// Clone returns a deep copy of the frame. Slices and maps are copied so the
// caller can hold the result across commits.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Tags = append([]string(nil), f.Tags...)
	c.Labels = append([]string(nil), f.Labels...)
	c.ContentDates = append([]string(nil), f.ContentDates...)
	c.Canonical = append([]byte(nil), f.Canonical...)
	if f.ExtraMetadata != nil {
		c.ExtraMetadata = make(map[string]string, len(f.ExtraMetadata))
		for k, v := range f.ExtraMetadata {
			c.ExtraMetadata[k] = v
		}
	}
	if f.ParentID != nil {
		id := *f.ParentID
		c.ParentID = &id
	}
	if f.Metadata != nil {
		m := *f.Metadata
		m.Entities = append([]Entity(nil), f.Metadata.Entities...)
		c.Metadata = &m
	}
	return &c
}

package container

import (
	"github.com/mv2db/mv2/frame"
	"github.com/mv2db/mv2/internal/fs"
)

// Options configure a container handle.
type Options struct {
	// FS is the filesystem used for all I/O. Tests inject fault-injecting
	// implementations here.
	FS fs.FileSystem

	// CompressionLevel is the zstd level used for canonical payloads.
	CompressionLevel int

	// DisableCompression stores every canonical payload as plain bytes.
	DisableCompression bool

	// CompressMin is the minimum payload size, in bytes, for which
	// compression is attempted. Smaller payloads are stored plain.
	CompressMin int

	// ChunkThreshold is the maximum search-text size, in bytes, before a put
	// splits the document into chunk frames.
	ChunkThreshold int
}

// DefaultOptions are the defaults applied by Create/Open.
var DefaultOptions = Options{
	FS:               fs.Default,
	CompressionLevel: 3,
	CompressMin:      512,
	ChunkThreshold:   4096,
}

// PutOptions configure a single put or update. All fields are independently
// optional; the zero value is a plain text put.
type PutOptions struct {
	// Timestamp overrides the frame's logical time (unix seconds).
	Timestamp *int64

	Track string
	Kind  string
	URI   string
	Title string

	// SearchText overrides the text fed to the tokenizer and index. When
	// empty, a valid UTF-8 payload is used as-is.
	SearchText string

	Tags          []string
	Labels        []string
	ExtraMetadata map[string]string

	// ContentDates are date strings asserted by upstream extraction.
	ContentDates []string

	// Extraction toggles. The extraction heuristics live outside the core;
	// the toggles are validated and recorded so adapters can honor them.
	EnableEmbedding   bool
	AutoTag           bool
	ExtractDates      bool
	ExtractTriplets   bool
	ExtractionBudget  uint64 // milliseconds; requires at least one toggle

	// NoRaw omits the original payload from storage; only the search text
	// and frame metadata are kept.
	NoRaw bool

	// SourcePath records provenance in the frame's document metadata.
	SourcePath string

	// Dedup turns a put whose content digest matches an existing Active
	// frame into a no-op returning the existing identity.
	Dedup bool

	// InstantIndex asks the store to index the frame at put time instead of
	// at commit.
	InstantIndex bool

	// Compress overrides the container's compression policy for this put.
	// Forcing compression on a container created with DisableCompression is
	// an option conflict.
	Compress *bool

	// Metadata is structured document metadata (MIME type, provenance,
	// upstream-detected entities).
	Metadata *frame.DocMetadata
}

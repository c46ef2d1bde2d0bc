package mv2

import (
	"github.com/mv2db/mv2/internal/fs"
	"github.com/mv2db/mv2/tokenizer"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	analyzer         tokenizer.Analyzer
	fileSystem       fs.FileSystem

	compressionLevel   int
	disableCompression bool
	chunkThreshold     int
	maxTimelineScan    int
}

// Option configures a store at open time.
type Option func(*options)

// WithLogger configures structured logging. By default logging is disabled.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures operational metrics collection.
//
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector == nil {
			collector = NoopMetricsCollector{}
		}
		o.metricsCollector = collector
	}
}

// WithAnalyzer overrides the tokenizer pipeline used for indexing and query
// analysis. Index-time and query-time analysis always share the configured
// pipeline.
func WithAnalyzer(analyzer tokenizer.Analyzer) Option {
	return func(o *options) {
		if analyzer != nil {
			o.analyzer = analyzer
		}
	}
}

// WithFileSystem injects the filesystem used for container I/O. Tests use
// this to inject faults.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fileSystem = fsys
		}
	}
}

// WithCompressionLevel sets the zstd level used for canonical payloads.
func WithCompressionLevel(level int) Option {
	return func(o *options) {
		o.compressionLevel = level
	}
}

// WithoutCompression stores every canonical payload uncompressed.
func WithoutCompression() Option {
	return func(o *options) {
		o.disableCompression = true
	}
}

// WithChunkThreshold sets the search-text size, in bytes, beyond which a put
// splits the document into chunk frames.
func WithChunkThreshold(bytes int) Option {
	return func(o *options) {
		if bytes > 0 {
			o.chunkThreshold = bytes
		}
	}
}

// WithMaxTimelineScan caps how many raw entries one timeline page may scan.
func WithMaxTimelineScan(max int) Option {
	return func(o *options) {
		if max > 0 {
			o.maxTimelineScan = max
		}
	}
}

package mv2

import (
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with store-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithPath adds the container path to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogPut logs a put operation.
func (l *Logger) LogPut(frameID, seqNo uint64, chunks int, deduplicated bool, err error) {
	if err != nil {
		l.Error("put failed",
			"error", err,
		)
	} else {
		l.Debug("put completed",
			"frame_id", frameID,
			"seq_no", seqNo,
			"chunks", chunks,
			"deduplicated", deduplicated,
		)
	}
}

// LogUpdate logs an update operation.
func (l *Logger) LogUpdate(frameID, newFrameID, seqNo uint64, err error) {
	if err != nil {
		l.Error("update failed",
			"frame_id", frameID,
			"error", err,
		)
	} else {
		l.Debug("update completed",
			"frame_id", frameID,
			"new_frame_id", newFrameID,
			"seq_no", seqNo,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(frameID, seqNo uint64, err error) {
	if err != nil {
		l.Error("delete failed",
			"frame_id", frameID,
			"error", err,
		)
	} else {
		l.Debug("delete completed",
			"frame_id", frameID,
			"seq_no", seqNo,
		)
	}
}

// LogCommit logs a commit operation.
func (l *Logger) LogCommit(seq uint64, frames, transitions int, err error) {
	if err != nil {
		l.Error("commit failed",
			"error", err,
		)
	} else {
		l.Debug("commit completed",
			"seq", seq,
			"frames", frames,
			"transitions", transitions,
		)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(query string, engine Engine, hits int, elapsed time.Duration, err error) {
	if err != nil {
		l.Error("search failed",
			"query", query,
			"error", err,
		)
	} else {
		l.Debug("search completed",
			"query", query,
			"engine", string(engine),
			"hits", hits,
			"elapsed", elapsed,
		)
	}
}

// LogTimeline logs a timeline scan.
func (l *Logger) LogTimeline(limit, entries, rounds int, err error) {
	if err != nil {
		l.Error("timeline failed",
			"limit", limit,
			"error", err,
		)
	} else {
		l.Debug("timeline completed",
			"limit", limit,
			"entries", entries,
			"rounds", rounds,
		)
	}
}

package mv2

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordPut is called after each put operation.
	// duration is the total time taken, err is nil if successful.
	RecordPut(duration time.Duration, err error)

	// RecordUpdate is called after each update operation.
	RecordUpdate(duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, err error)

	// RecordCommit is called after each commit. frames and transitions are
	// the counts published by the commit.
	RecordCommit(frames, transitions int, duration time.Duration, err error)

	// RecordSearch is called after each search. engine names the path that
	// served the request.
	RecordSearch(engine Engine, hits int, duration time.Duration, err error)

	// RecordTimeline is called after each timeline scan.
	RecordTimeline(entries int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPut(time.Duration, error)                   {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error)                {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)                {}
func (NoopMetricsCollector) RecordCommit(int, int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordSearch(Engine, int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordTimeline(int, time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	PutCount          atomic.Int64
	PutErrors         atomic.Int64
	PutTotalNanos     atomic.Int64
	UpdateCount       atomic.Int64
	UpdateErrors      atomic.Int64
	DeleteCount       atomic.Int64
	DeleteErrors      atomic.Int64
	CommitCount       atomic.Int64
	CommitErrors      atomic.Int64
	CommitFrames      atomic.Int64
	CommitTransitions atomic.Int64
	SearchCount       atomic.Int64
	SearchErrors      atomic.Int64
	SearchFallbacks   atomic.Int64
	SearchTotalNanos  atomic.Int64
	TimelineCount     atomic.Int64
	TimelineErrors    atomic.Int64
}

// RecordPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPut(duration time.Duration, err error) {
	b.PutCount.Add(1)
	b.PutTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PutErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(duration time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(frames, transitions int, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitFrames.Add(int64(frames))
	b.CommitTransitions.Add(int64(transitions))
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(engine Engine, hits int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if engine != EnginePrimary {
		b.SearchFallbacks.Add(1)
	}
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordTimeline implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTimeline(entries int, duration time.Duration, err error) {
	b.TimelineCount.Add(1)
	if err != nil {
		b.TimelineErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		PutCount:          b.PutCount.Load(),
		PutErrors:         b.PutErrors.Load(),
		PutAvgNanos:       b.avgPutNanos(),
		UpdateCount:       b.UpdateCount.Load(),
		UpdateErrors:      b.UpdateErrors.Load(),
		DeleteCount:       b.DeleteCount.Load(),
		DeleteErrors:      b.DeleteErrors.Load(),
		CommitCount:       b.CommitCount.Load(),
		CommitErrors:      b.CommitErrors.Load(),
		CommitFrames:      b.CommitFrames.Load(),
		CommitTransitions: b.CommitTransitions.Load(),
		SearchCount:       b.SearchCount.Load(),
		SearchErrors:      b.SearchErrors.Load(),
		SearchFallbacks:   b.SearchFallbacks.Load(),
		SearchAvgNanos:    b.avgSearchNanos(),
		TimelineCount:     b.TimelineCount.Load(),
		TimelineErrors:    b.TimelineErrors.Load(),
	}
}

func (b *BasicMetricsCollector) avgPutNanos() int64 {
	count := b.PutCount.Load()
	if count == 0 {
		return 0
	}
	return b.PutTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) avgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	PutCount          int64
	PutErrors         int64
	PutAvgNanos       int64
	UpdateCount       int64
	UpdateErrors      int64
	DeleteCount       int64
	DeleteErrors      int64
	CommitCount       int64
	CommitErrors      int64
	CommitFrames      int64
	CommitTransitions int64
	SearchCount       int64
	SearchErrors      int64
	SearchFallbacks   int64
	SearchAvgNanos    int64
	TimelineCount     int64
	TimelineErrors    int64
}

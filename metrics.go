package tinyvec

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems. The
// prommetrics package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordMutation is called after each block mutation.
	// op is one of "add", "delete", "set" or "update"; count is the number of
	// ids in the batch.
	RecordMutation(op string, count int, duration time.Duration, err error)

	// RecordSearch is called after each search operation.
	// k is the number of results requested, duration is the time taken,
	// err is nil if successful.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordFlush is called after a collection drained its change log.
	RecordFlush(changes int, duration time.Duration, err error)

	// RecordCommit is called after each registry commit.
	RecordCommit(duration time.Duration, err error)

	// RecordLoad is called after a collection was loaded from the store.
	RecordLoad(rows int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMutation(string, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)           {}
func (NoopMetricsCollector) RecordFlush(int, time.Duration, error)            {}
func (NoopMetricsCollector) RecordCommit(time.Duration, error)                {}
func (NoopMetricsCollector) RecordLoad(int, time.Duration, error)             {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MutationCount    atomic.Int64
	MutationItems    atomic.Int64
	MutationErrors   atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	FlushCount       atomic.Int64
	FlushedChanges   atomic.Int64
	FlushErrors      atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitTotalNanos atomic.Int64
	LoadCount        atomic.Int64
	LoadedRows       atomic.Int64
	LoadErrors       atomic.Int64
}

// RecordMutation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMutation(_ string, count int, _ time.Duration, err error) {
	b.MutationCount.Add(1)
	if err != nil {
		b.MutationErrors.Add(1)
		return
	}
	b.MutationItems.Add(int64(count))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(changes int, _ time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushedChanges.Add(int64(changes))
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(rows int, _ time.Duration, err error) {
	b.LoadCount.Add(1)
	if err != nil {
		b.LoadErrors.Add(1)
		return
	}
	b.LoadedRows.Add(int64(rows))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		MutationCount:  b.MutationCount.Load(),
		MutationItems:  b.MutationItems.Load(),
		MutationErrors: b.MutationErrors.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		FlushCount:     b.FlushCount.Load(),
		FlushedChanges: b.FlushedChanges.Load(),
		FlushErrors:    b.FlushErrors.Load(),
		CommitCount:    b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		CommitAvgNanos: avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		LoadCount:      b.LoadCount.Load(),
		LoadedRows:     b.LoadedRows.Load(),
		LoadErrors:     b.LoadErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	MutationCount  int64
	MutationItems  int64
	MutationErrors int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	FlushCount     int64
	FlushedChanges int64
	FlushErrors    int64
	CommitCount    int64
	CommitErrors   int64
	CommitAvgNanos int64
	LoadCount      int64
	LoadedRows     int64
	LoadErrors     int64
}

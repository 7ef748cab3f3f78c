package graphmat

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/graphmat/store"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// The store.Observer methods receive one callback per store request made by
// any worker; they must be safe for concurrent use.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    store.NoopObserver
//	    shards *prometheus.CounterVec
//	}
//
//	func (p *PrometheusCollector) RecordShard(worker int, d time.Duration, err error) {
//	    p.shards.WithLabelValues(status(err)).Inc()
//	}
type MetricsCollector interface {
	store.Observer

	// RecordShard is called after each shard. err is nil if it completed.
	RecordShard(worker int, duration time.Duration, err error)

	// RecordRun is called once per run with the number of units processed
	// and recorded in the ledger.
	RecordRun(processed int64, failed int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct {
	store.NoopObserver
}

func (NoopMetricsCollector) RecordShard(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRun(int64, int, time.Duration)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ShardCount      atomic.Int64
	ShardErrors     atomic.Int64
	ShardTotalNanos atomic.Int64
	LookupCount     atomic.Int64
	LookupErrors    atomic.Int64
	LookupIDs       atomic.Int64
	LookupMisses    atomic.Int64
	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryHits       atomic.Int64
	QueryTotalNanos atomic.Int64
	BulkCount       atomic.Int64
	BulkErrors      atomic.Int64
	BulkActions     atomic.Int64
	BulkFailed      atomic.Int64
	RunCount        atomic.Int64
	RunProcessed    atomic.Int64
	RunFailed       atomic.Int64
}

// RecordShard implements MetricsCollector.
func (b *BasicMetricsCollector) RecordShard(_ int, duration time.Duration, err error) {
	b.ShardCount.Add(1)
	b.ShardTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ShardErrors.Add(1)
	}
}

// RecordRun implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRun(processed int64, failed int, _ time.Duration) {
	b.RunCount.Add(1)
	b.RunProcessed.Add(processed)
	b.RunFailed.Add(int64(failed))
}

// OnLookup implements store.Observer.
func (b *BasicMetricsCollector) OnLookup(_ string, requested, found int, _ time.Duration, err error) {
	b.LookupCount.Add(1)
	if err != nil {
		b.LookupErrors.Add(1)
		return
	}
	b.LookupIDs.Add(int64(requested))
	b.LookupMisses.Add(int64(requested - found))
}

// OnQuery implements store.Observer.
func (b *BasicMetricsCollector) OnQuery(_, _ string, hits int, d time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
		return
	}
	b.QueryHits.Add(int64(hits))
}

// OnBulk implements store.Observer.
func (b *BasicMetricsCollector) OnBulk(_ string, actions, failed int, _ time.Duration, err error) {
	b.BulkCount.Add(1)
	b.BulkActions.Add(int64(actions))
	b.BulkFailed.Add(int64(failed))
	if err != nil {
		b.BulkErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ShardCount:    b.ShardCount.Load(),
		ShardErrors:   b.ShardErrors.Load(),
		ShardAvgNanos: avg(b.ShardTotalNanos.Load(), b.ShardCount.Load()),
		LookupCount:   b.LookupCount.Load(),
		LookupErrors:  b.LookupErrors.Load(),
		LookupIDs:     b.LookupIDs.Load(),
		LookupMisses:  b.LookupMisses.Load(),
		QueryCount:    b.QueryCount.Load(),
		QueryErrors:   b.QueryErrors.Load(),
		QueryHits:     b.QueryHits.Load(),
		QueryAvgNanos: avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		BulkCount:     b.BulkCount.Load(),
		BulkErrors:    b.BulkErrors.Load(),
		BulkActions:   b.BulkActions.Load(),
		BulkFailed:    b.BulkFailed.Load(),
		RunCount:      b.RunCount.Load(),
		RunProcessed:  b.RunProcessed.Load(),
		RunFailed:     b.RunFailed.Load(),
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
	ShardCount    int64
	ShardErrors   int64
	ShardAvgNanos int64
	LookupCount   int64
	LookupErrors  int64
	LookupIDs     int64
	LookupMisses  int64
	QueryCount    int64
	QueryErrors   int64
	QueryHits     int64
	QueryAvgNanos int64
	BulkCount     int64
	BulkErrors    int64
	BulkActions   int64
	BulkFailed    int64
	RunCount      int64
	RunProcessed  int64
	RunFailed     int64
}

package sink

import (
	"context"
	"log/slog"

	"github.com/hupe1980/graphmat/ledger"
	"github.com/hupe1980/graphmat/store"
)

// DefaultBulkSize is the number of actions per BulkUpsert call.
const DefaultBulkSize = 2000

// BulkStats summarizes the work of a BulkSink.
type BulkStats struct {
	Batches   int
	Succeeded int
	Failed    int
}

// BulkOption configures a BulkSink.
type BulkOption func(*BulkSink)

// WithBatchSize sets the number of actions per batch.
func WithBatchSize(n int) BulkOption {
	return func(s *BulkSink) {
		if n > 0 {
			s.size = n
		}
	}
}

// WithBulkLogger sets the logger.
func WithBulkLogger(l *slog.Logger) BulkOption {
	return func(s *BulkSink) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithItemFailureHook replaces the default warning logged for a rejected
// item.
func WithItemFailureHook(fn func(index string, f store.ItemFailure)) BulkOption {
	return func(s *BulkSink) {
		s.onFailure = fn
	}
}

// BulkSink buffers actions for one index and flushes them in batches. It
// is owned by a single worker and not safe for concurrent use.
type BulkSink struct {
	store     store.Store
	index     string
	size      int
	failures  *ledger.Ledger
	logger    *slog.Logger
	onFailure func(index string, f store.ItemFailure)

	buf   []store.Action
	stats BulkStats
}

// NewBulkSink creates a sink writing to index of st. Failed ids are
// appended to failures.
func NewBulkSink(st store.Store, index string, failures *ledger.Ledger, opts ...BulkOption) *BulkSink {
	s := &BulkSink{
		store:    st,
		index:    index,
		size:     DefaultBulkSize,
		failures: failures,
		logger:   slog.New(slog.DiscardHandler),
	}
	if s.failures == nil {
		s.failures = ledger.New()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.onFailure == nil {
		s.onFailure = func(index string, f store.ItemFailure) {
			s.logger.Warn("bulk item failed", "index", index, "id", f.ID, "status", f.Status, "reason", f.Reason)
		}
	}
	s.buf = make([]store.Action, 0, s.size)
	return s
}

// Add buffers a and flushes when the batch is full.
func (s *BulkSink) Add(ctx context.Context, a store.Action) error {
	s.buf = append(s.buf, a)
	if len(s.buf) >= s.size {
		return s.Flush(ctx)
	}
	return nil
}

// Flush submits the buffered actions. Rejected items are logged and
// recorded; a failed request marks the whole batch failed. Only a done
// context is returned as an error, so later batches still run.
func (s *BulkSink) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	batch := s.buf
	s.buf = make([]store.Action, 0, s.size)
	s.stats.Batches++

	res, err := s.store.BulkUpsert(ctx, s.index, batch)
	if err != nil {
		s.logger.Error("bulk request failed", "index", s.index, "actions", len(batch), "error", err)
		for _, a := range batch {
			s.failures.Append(a.ID)
		}
		s.stats.Failed += len(batch)
		return ctx.Err()
	}

	for _, f := range res.Failures {
		s.onFailure(s.index, f)
		s.failures.Append(f.ID)
	}
	s.stats.Succeeded += res.Succeeded
	s.stats.Failed += len(res.Failures)
	return nil
}

// Stats returns the counters so far.
func (s *BulkSink) Stats() BulkStats {
	return s.stats
}

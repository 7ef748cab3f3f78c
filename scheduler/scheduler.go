package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/graphmat/ledger"
	"github.com/hupe1980/graphmat/progress"
	"github.com/hupe1980/graphmat/shard"
)

var (
	// ErrPanic wraps a recovered worker panic.
	ErrPanic = errors.New("scheduler: worker panic")
	// ErrNoWorker is reported for shards left over after every worker exited.
	ErrNoWorker = errors.New("scheduler: no worker available")
)

// ShardError reports a shard that did not complete.
type ShardError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("shard %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *ShardError) Unwrap() error {
	return e.Err
}

// RunContext is the per-worker state of one run.
type RunContext struct {
	RunID    string
	WorkerID int
	// Progress is owned by this worker; no other worker writes it.
	Progress *progress.Slot
	// Ledger is shared by all workers.
	Ledger *ledger.Ledger
	Logger *slog.Logger
}

// Worker processes shards for one pool worker.
type Worker[S shard.Shard] interface {
	Process(ctx context.Context, rc *RunContext, s S) error
	Close() error
}

// Factory creates the Worker of one pool worker.
type Factory[S shard.Shard] func(ctx context.Context, rc *RunContext) (Worker[S], error)

// ShardEvent describes a finished shard.
type ShardEvent struct {
	Index    int
	WorkerID int
	Attempts int
	Duration time.Duration
	Err      error
}

// Report summarizes a run.
type Report struct {
	Planned   int
	Completed *progress.ShardSet
	Failed    map[int]*ShardError
}

// FailedIndices returns the failed shard indices in ascending order.
func (r *Report) FailedIndices() []int {
	return slices.Sorted(maps.Keys(r.Failed))
}

// Err joins the shard errors in index order, or returns nil.
func (r *Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, idx := range r.FailedIndices() {
		errs = append(errs, r.Failed[idx])
	}
	return errors.Join(errs...)
}

type options struct {
	workers     int
	maxAttempts int
	runID       string
	logger      *slog.Logger
	ledger      *ledger.Ledger
	counters    *progress.Counters
	hook        func(ShardEvent)
}

// Option configures a Pool.
type Option func(*options)

// WithWorkers sets the number of pool workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithMaxAttempts enables re-execution of failed shards.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithRunID sets the run id handed to workers.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLedger shares an existing ledger with the workers.
func WithLedger(l *ledger.Ledger) Option {
	return func(o *options) {
		if l != nil {
			o.ledger = l
		}
	}
}

// WithShardHook registers fn to be called after every shard, including
// shards that never ran. The pool itself does not log shard outcomes.
func WithShardHook(fn func(ShardEvent)) Option {
	return func(o *options) {
		o.hook = fn
	}
}

// Pool runs shards of type S.
type Pool[S shard.Shard] struct {
	factory Factory[S]
	opts    options
}

// New creates a pool. Progress counters are allocated here, one slot per
// worker, so a monitor can watch them before Run starts.
func New[S shard.Shard](factory Factory[S], opts ...Option) *Pool[S] {
	o := options{
		workers:     runtime.NumCPU(),
		maxAttempts: 1,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ledger == nil {
		o.ledger = ledger.New()
	}
	o.counters = progress.NewCounters(o.workers)
	return &Pool[S]{factory: factory, opts: o}
}

// Workers returns the pool size.
func (p *Pool[S]) Workers() int { return p.opts.workers }

// Counters returns the per-worker progress counters.
func (p *Pool[S]) Counters() *progress.Counters { return p.opts.counters }

// Ledger returns the failure ledger.
func (p *Pool[S]) Ledger() *ledger.Ledger { return p.opts.ledger }

// Run processes every shard and waits for all workers. Shards that were not
// processed, because the context ended or no worker could be created, are
// reported as failed. The returned error joins all shard errors.
func (p *Pool[S]) Run(ctx context.Context, shards []S) (*Report, error) {
	report := &Report{
		Planned:   len(shards),
		Completed: progress.NewShardSet(),
		Failed:    make(map[int]*ShardError),
	}

	queue := make(chan S, len(shards))
	for _, s := range shards {
		queue <- s
	}
	close(queue)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		startErr []error
	)
	record := func(ev ShardEvent) {
		mu.Lock()
		if ev.Err != nil {
			report.Failed[ev.Index] = &ShardError{Index: ev.Index, Attempts: ev.Attempts, Err: ev.Err}
		} else {
			report.Completed.Mark(ev.Index)
		}
		mu.Unlock()
		if p.opts.hook != nil {
			p.opts.hook(ev)
		}
	}

	for id := range min(p.opts.workers, max(len(shards), 1)) {
		rc := &RunContext{
			RunID:    p.opts.runID,
			WorkerID: id,
			Progress: p.opts.counters.Slot(id),
			Ledger:   p.opts.ledger,
			Logger:   p.opts.logger.With("worker", id),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.work(ctx, rc, queue, record); err != nil {
				mu.Lock()
				startErr = append(startErr, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Whatever is still queued never ran.
	cause := ctx.Err()
	if cause == nil {
		cause = errors.Join(append([]error{ErrNoWorker}, startErr...)...)
	}
	for s := range queue {
		record(ShardEvent{Index: s.ShardIndex(), WorkerID: -1, Err: cause})
	}

	return report, report.Err()
}

func (p *Pool[S]) work(ctx context.Context, rc *RunContext, queue <-chan S, record func(ShardEvent)) error {
	w, err := p.factory(ctx, rc)
	if err != nil {
		rc.Logger.Error("worker start failed", "error", err)
		return fmt.Errorf("worker %d: %w", rc.WorkerID, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			rc.Logger.Warn("worker close failed", "error", cerr)
		}
	}()

	for ctx.Err() == nil {
		s, ok := <-queue
		if !ok {
			return nil
		}
		start := time.Now()
		attempts, err := p.process(ctx, w, rc, s)
		ev := ShardEvent{
			Index:    s.ShardIndex(),
			WorkerID: rc.WorkerID,
			Attempts: attempts,
			Duration: time.Since(start),
			Err:      err,
		}
		record(ev)
	}
	return nil
}

func (p *Pool[S]) process(ctx context.Context, w Worker[S], rc *RunContext, s S) (int, error) {
	if p.opts.maxAttempts <= 1 {
		return 1, safeProcess(ctx, w, rc, s)
	}

	for attempt := 1; ; attempt++ {
		staged := *rc
		staged.Progress = &progress.Slot{}
		staged.Ledger = ledger.New()

		err := safeProcess(ctx, w, &staged, s)
		last := err == nil || attempt >= p.opts.maxAttempts || ctx.Err() != nil
		if last {
			rc.Progress.Add(staged.Progress.Load())
			rc.Ledger.Append(staged.Ledger.IDs()...)
			return attempt, err
		}
		rc.Logger.Warn("shard attempt failed, retrying", "shard", s.ShardIndex(), "attempt", attempt, "error", err)
	}
}

func safeProcess[S shard.Shard](ctx context.Context, w Worker[S], rc *RunContext, s S) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, r, debug.Stack())
		}
	}()
	return w.Process(ctx, rc, s)
}

package graphmat

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/internal/resource"
	"github.com/hupe1980/graphmat/join"
	"github.com/hupe1980/graphmat/ledger"
	"github.com/hupe1980/graphmat/progress"
	"github.com/hupe1980/graphmat/scheduler"
	"github.com/hupe1980/graphmat/shard"
	"github.com/hupe1980/graphmat/sink"
	"github.com/hupe1980/graphmat/store"
)

// StoreFactory opens one store connection. It is called once per worker.
type StoreFactory func(ctx context.Context) (store.Store, error)

// Result summarizes a finished run.
type Result struct {
	RunID string
	// Total is the number of planned units.
	Total int64
	// Processed is the sum of all progress counters.
	Processed int64
	// Failed is the number of unit ids in the ledger.
	Failed int
	// Ledger is the name of the persisted ledger, empty when nothing failed.
	Ledger string
	// Output is the name of the stitched blob in ordered mode.
	Output   string
	Report   *scheduler.Report
	Duration time.Duration
}

// NewRunID returns the first 10 hex characters of a random UUID.
func NewRunID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:10]
}

// Runner assembles runs: it plans shards, schedules them on a worker pool,
// monitors progress and persists the failure ledger.
//
// A Runner may be used for several runs, sequentially or concurrently.
// Concurrent runs need distinct run ids: the id names the run's temp
// directory and its ledger, so do not combine concurrent use with WithRunID.
type Runner struct {
	opts options
}

// New creates a Runner.
func New(opts ...Option) (*Runner, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &Runner{opts: o}, nil
}

// BuildAdjacency writes one adjacency document per node id to the adjacency
// index. Ids are split into one contiguous chunk per worker. Nodes that fail
// are recorded in the ledger and do not stop the run.
func (r *Runner) BuildAdjacency(ctx context.Context, ids []string, open StoreFactory) (*Result, error) {
	if len(ids) == 0 {
		return nil, planError(ErrNoInput)
	}

	runID := r.runID()
	log := r.opts.logger.WithRunID(runID)
	limiter := r.opts.controller()

	factory := func(ctx context.Context, rc *scheduler.RunContext) (scheduler.Worker[shard.IDChunk], error) {
		st, err := r.open(ctx, open, limiter, false)
		if err != nil {
			return nil, err
		}
		wlog := log.WithWorker(rc.WorkerID)
		return &adjacencyWorker{
			store: st,
			index: r.opts.adjacencyIndex,
			size:  r.opts.bulkSize,
			log:   wlog,
			builder: join.NewAdjacencyBuilder(st,
				join.WithAdjacencyEdgeIndex(r.opts.edgeIndex),
				join.WithPageSize(r.opts.pageSize),
				join.WithConcurrency(r.opts.concurrency),
				join.WithUpsert(r.opts.upsert),
				join.WithAdjacencyLogger(rc.Logger),
				join.WithFailureHook(func(id string, err error) {
					wlog.LogUnitFailure(ctx, id, err)
				}),
			),
		}, nil
	}

	return run(ctx, r, runID, plan[shard.IDChunk]{
		mode:    "adjacency",
		unit:    "nodes",
		total:   int64(len(ids)),
		shards:  shard.ChunkIDs(ids, r.opts.workers),
		factory: factory,
		units:   func(c shard.IDChunk) []string { return c.IDs },
	})
}

type adjacencyWorker struct {
	store   store.Store
	index   string
	size    int
	log     *Logger
	builder *join.AdjacencyBuilder
}

func (w *adjacencyWorker) Process(ctx context.Context, rc *scheduler.RunContext, c shard.IDChunk) error {
	bulk := sink.NewBulkSink(w.store, w.index, rc.Ledger,
		sink.WithBatchSize(w.size),
		sink.WithBulkLogger(rc.Logger),
		sink.WithItemFailureHook(func(index string, f store.ItemFailure) {
			w.log.LogBulkFailure(ctx, index, f)
		}),
	)

	emit := func(a store.Action) error { return bulk.Add(ctx, a) }
	err := w.builder.Build(ctx, c.IDs, emit, rc.Progress, rc.Ledger)
	if ferr := bulk.Flush(ctx); err == nil {
		err = ferr
	}
	return err
}

func (w *adjacencyWorker) Close() error {
	return store.Close(w.store)
}

// EnrichEdges joins every edge of the line-delimited input blob name in in
// with its nodes and stitches the results, in input order, into the output
// blob in out. The input is sharded by line offsets, which are cached next
// to the input.
func (r *Runner) EnrichEdges(ctx context.Context, in blobstore.Store, name string, open StoreFactory, out blobstore.Store) (*Result, error) {
	scan, hit, err := shard.NewOffsetCache(in, shard.WithCacheLogger(r.opts.logger.Logger)).
		Load(ctx, name, r.opts.batchSize, r.opts.forceScan)
	if err != nil {
		return nil, planError(err)
	}
	if scan.Records == 0 {
		return nil, planError(fmt.Errorf("%w: %s", ErrNoInput, name))
	}
	r.opts.logger.DebugContext(ctx, "input planned", "input", name, "lines", scan.Lines, "shards", len(scan.Offsets), "cached", hit)

	runID := r.runID()
	limiter := r.opts.controller()
	output := r.orderedSink(runID)

	factory := func(ctx context.Context, rc *scheduler.RunContext) (scheduler.Worker[shard.Range], error) {
		blob, err := in.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		st, err := r.open(ctx, open, limiter, true)
		if err != nil {
			return nil, errors.Join(err, blob.Close())
		}
		return &rangeWorker{
			blob:     blob,
			store:    st,
			sink:     output,
			enricher: r.enricher(st, rc),
		}, nil
	}

	return run(ctx, r, runID, plan[shard.Range]{
		mode:    "enrich",
		unit:    "edges",
		total:   scan.Records,
		shards:  shard.Ranges(scan.Offsets),
		factory: factory,
		finish:  r.stitch(output, out),
	})
}

type rangeWorker struct {
	blob     blobstore.Blob
	store    store.Store
	sink     *sink.OrderedFileSink
	enricher *join.EdgeEnricher
}

func (w *rangeWorker) Process(ctx context.Context, rc *scheduler.RunContext, s shard.Range) error {
	return w.enricher.EnrichRange(ctx, w.blob, s, w.sink, rc.Progress)
}

func (w *rangeWorker) Close() error {
	return errors.Join(w.blob.Close(), store.Close(w.store))
}

// EnrichEdgeIDs fetches the edges named by ids from the edge index, joins
// them with their nodes and stitches the results, in id order, into the
// output blob in out. Ids that cannot be fetched are recorded in the ledger.
func (r *Runner) EnrichEdgeIDs(ctx context.Context, ids []string, open StoreFactory, out blobstore.Store) (*Result, error) {
	if len(ids) == 0 {
		return nil, planError(ErrNoInput)
	}

	runID := r.runID()
	limiter := r.opts.controller()
	output := r.orderedSink(runID)

	factory := func(ctx context.Context, rc *scheduler.RunContext) (scheduler.Worker[shard.IDChunk], error) {
		st, err := r.open(ctx, open, limiter, true)
		if err != nil {
			return nil, err
		}
		return &idWorker{
			store:    st,
			sink:     output,
			enricher: r.enricher(st, rc),
		}, nil
	}

	chunks := (len(ids) + r.opts.batchSize - 1) / r.opts.batchSize
	return run(ctx, r, runID, plan[shard.IDChunk]{
		mode:    "enrich",
		unit:    "edges",
		total:   int64(len(ids)),
		shards:  shard.ChunkIDs(ids, chunks),
		factory: factory,
		units:   func(c shard.IDChunk) []string { return c.IDs },
		finish:  r.stitch(output, out),
	})
}

type idWorker struct {
	store    store.Store
	sink     *sink.OrderedFileSink
	enricher *join.EdgeEnricher
}

func (w *idWorker) Process(ctx context.Context, rc *scheduler.RunContext, c shard.IDChunk) error {
	return w.enricher.EnrichIDs(ctx, c, w.sink, rc.Progress, rc.Ledger)
}

func (w *idWorker) Close() error {
	return store.Close(w.store)
}

func (r *Runner) runID() string {
	if r.opts.runID != "" {
		return r.opts.runID
	}
	return NewRunID()
}

// open connects one worker's store and decorates it: every request is
// observed by the metrics collector and paced by the shared limiter, and
// enrichment lookups go through a per-worker cache.
func (r *Runner) open(ctx context.Context, open StoreFactory, limiter *resource.Controller, cached bool) (store.Store, error) {
	st, err := open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	st = store.Throttled(store.Instrumented(st, r.opts.metricsCollector), limiter)
	if cached && r.opts.lookupCache > 0 {
		st = store.NewCachingStore(st, r.opts.lookupCache)
	}
	return st, nil
}

func (r *Runner) enricher(st store.Store, rc *scheduler.RunContext) *join.EdgeEnricher {
	return join.NewEdgeEnricher(st,
		join.WithNodeIndex(r.opts.nodeIndex),
		join.WithEdgeIndex(r.opts.edgeIndex),
		join.WithEnricherLogger(rc.Logger),
	)
}

func (r *Runner) orderedSink(runID string) *sink.OrderedFileSink {
	return sink.NewOrderedFileSink(filepath.Join(r.opts.tempDir, "graphmat-"+runID),
		sink.WithOverwrite(r.opts.maxAttempts > 1),
		sink.WithOrderedLogger(r.opts.logger.Logger),
	)
}

// stitch returns the finish step of an ordered run. Shard files are kept
// when stitching fails so the run can be inspected.
func (r *Runner) stitch(output *sink.OrderedFileSink, out blobstore.Store) func(context.Context, *scheduler.Report) (string, error) {
	return func(ctx context.Context, report *scheduler.Report) (string, error) {
		name, err := output.StitchTo(ctx, out, r.opts.outputName, report.Planned, r.opts.codec)
		if err != nil {
			return "", fmt.Errorf("stitch: %w", err)
		}
		if err := output.Cleanup(); err != nil {
			r.opts.logger.WarnContext(ctx, "shard cleanup failed", "dir", output.Dir(), "error", err)
		}
		return name, nil
	}
}

type plan[S shard.Shard] struct {
	mode    string
	unit    string
	total   int64
	shards  []S
	factory scheduler.Factory[S]
	// units lists the unit ids of a shard; failed shards are expanded into
	// the ledger with it.
	units func(S) []string
	// finish runs after all workers are done.
	finish func(context.Context, *scheduler.Report) (string, error)
}

func run[S shard.Shard](ctx context.Context, r *Runner, runID string, p plan[S]) (*Result, error) {
	o := &r.opts
	log := o.logger.WithRunID(runID)
	failures := ledger.New()

	pool := scheduler.New(p.factory,
		scheduler.WithWorkers(o.workers),
		scheduler.WithMaxAttempts(o.maxAttempts),
		scheduler.WithRunID(runID),
		scheduler.WithLogger(log.Logger),
		scheduler.WithLedger(failures),
		scheduler.WithShardHook(func(ev scheduler.ShardEvent) {
			o.metricsCollector.RecordShard(ev.WorkerID, ev.Duration, ev.Err)
			log.LogShard(ctx, ev.WorkerID, ev.Index, ev.Attempts, ev.Duration, ev.Err)
		}),
	)

	log.LogRunStart(ctx, p.mode, p.total, len(p.shards), min(o.workers, len(p.shards)))
	elapsed := log.Timed(ctx, fmt.Sprintf("process %d %s", p.total, p.unit))

	stopMonitor := startMonitor(ctx, o, pool.Counters(), p.total, runID, p.unit)
	report, runErr := pool.Run(ctx, p.shards)
	stopMonitor()

	if p.units != nil {
		byIndex := make(map[int]S, len(p.shards))
		for _, s := range p.shards {
			byIndex[s.ShardIndex()] = s
		}
		for _, idx := range report.FailedIndices() {
			failures.Append(p.units(byIndex[idx])...)
		}
	}

	res := &Result{
		RunID:     runID,
		Total:     p.total,
		Processed: pool.Counters().Sum(),
		Failed:    failures.Len(),
		Report:    report,
	}

	var finishErr error
	if p.finish != nil {
		res.Output, finishErr = p.finish(ctx, report)
	}

	var ledgerErr error
	if res.Failed > 0 {
		// The ledger is the replay source, so it is written even when the
		// run was canceled.
		res.Ledger, ledgerErr = failures.Persist(context.WithoutCancel(ctx), o.ledgerStore, runID)
		log.LogLedger(ctx, ledger.Name(runID), res.Failed, ledgerErr)
	}

	res.Duration = elapsed()
	o.metricsCollector.RecordRun(res.Processed, res.Failed, res.Duration)

	var err error
	switch {
	case len(report.Failed) > 0:
		err = &RunError{
			RunID:  runID,
			Failed: res.Failed,
			Shards: report.FailedIndices(),
			cause:  errors.Join(runErr, finishErr, ledgerErr),
		}
	default:
		err = errors.Join(finishErr, ledgerErr)
	}
	log.LogRunComplete(ctx, res.Processed, res.Failed, res.Duration, err)
	return res, err
}

// startMonitor prints the progress line until the returned func is called.
func startMonitor(ctx context.Context, o *options, counters *progress.Counters, total int64, runID, unit string) func() {
	if o.progressWriter == nil {
		return func() {}
	}
	m := progress.NewMonitor(counters, total,
		progress.WithWriter(o.progressWriter),
		progress.WithInterval(o.progressInterval),
		progress.WithRunID(runID),
		progress.WithUnit(unit),
	)
	mctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(mctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

package graphmat

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/internal/compress"
	"github.com/hupe1980/graphmat/internal/resource"
	"github.com/hupe1980/graphmat/join"
	"github.com/hupe1980/graphmat/shard"
	"github.com/hupe1980/graphmat/sink"
)

const (
	// DefaultAdjacencyIndex receives the adjacency documents.
	DefaultAdjacencyIndex = "adjacency_list"

	// DefaultOutputName is the stitched output of an enrichment run.
	DefaultOutputName = "merged_edges.jsonl"

	// DefaultProgressInterval is the monitor refresh period.
	DefaultProgressInterval = time.Second
)

type options struct {
	workers          int
	concurrency      int
	pageSize         int
	bulkSize         int
	batchSize        int
	maxAttempts      int
	nodeIndex        string
	edgeIndex        string
	adjacencyIndex   string
	upsert           bool
	runID            string
	logger           *Logger
	metricsCollector MetricsCollector
	progressWriter   io.Writer
	progressInterval time.Duration
	ledgerStore      blobstore.Store
	rateLimit        float64
	lookupCache      int
	tempDir          string
	outputName       string
	codec            compress.Codec
	forceScan        bool
}

func defaultOptions() options {
	return options{
		workers:          runtime.NumCPU(),
		concurrency:      join.DefaultConcurrency,
		pageSize:         join.DefaultPageSize,
		bulkSize:         sink.DefaultBulkSize,
		batchSize:        shard.DefaultBatchSize,
		maxAttempts:      1,
		nodeIndex:        join.DefaultNodeIndex,
		edgeIndex:        join.DefaultEdgeIndex,
		adjacencyIndex:   DefaultAdjacencyIndex,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		progressWriter:   os.Stdout,
		progressInterval: DefaultProgressInterval,
		ledgerStore:      blobstore.NewLocalStore("."),
		tempDir:          os.TempDir(),
		outputName:       DefaultOutputName,
		codec:            compress.None,
	}
}

func (o *options) validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"workers", o.workers},
		{"concurrency", o.concurrency},
		{"page size", o.pageSize},
		{"bulk size", o.bulkSize},
		{"batch size", o.batchSize},
		{"max attempts", o.maxAttempts},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidOption, p.name, p.value)
		}
	}
	if o.nodeIndex == "" || o.edgeIndex == "" || o.adjacencyIndex == "" {
		return fmt.Errorf("%w: index names must not be empty", ErrInvalidOption)
	}
	if o.rateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidOption)
	}
	if o.lookupCache < 0 {
		return fmt.Errorf("%w: lookup cache must not be negative", ErrInvalidOption)
	}
	if o.outputName == "" {
		return fmt.Errorf("%w: output name must not be empty", ErrInvalidOption)
	}
	return nil
}

// Option configures a Runner.
type Option func(*options)

// WithWorkers sets the size of the worker pool. Each worker owns one store
// connection.
//
// Default: runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithConcurrency caps the node resolutions a single adjacency worker keeps
// in flight.
//
// Default: 5.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithPageSize sets the page size of adjacency edge queries.
//
// Default: 10000.
func WithPageSize(n int) Option {
	return func(o *options) {
		o.pageSize = n
	}
}

// WithBulkSize sets the number of actions per bulk request.
//
// Default: 2000.
func WithBulkSize(n int) Option {
	return func(o *options) {
		o.bulkSize = n
	}
}

// WithBatchSize sets the number of input lines per enrichment shard. For
// id-driven enrichment it is the number of edge ids per shard.
//
// Default: 10000.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithMaxAttempts re-executes a failed shard up to n times in total.
// Progress and ledger entries of a failed attempt are discarded. Only enable
// this for idempotent sinks.
//
// Default: 1 (no retry; failed shards are replayed from the ledger).
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithNodeIndex sets the index edge references are resolved against.
func WithNodeIndex(index string) Option {
	return func(o *options) {
		o.nodeIndex = index
	}
}

// WithEdgeIndex sets the index holding edge documents.
func WithEdgeIndex(index string) Option {
	return func(o *options) {
		o.edgeIndex = index
	}
}

// WithAdjacencyIndex sets the index adjacency documents are written to.
func WithAdjacencyIndex(index string) Option {
	return func(o *options) {
		o.adjacencyIndex = index
	}
}

// WithUpsert creates missing adjacency documents instead of failing them.
// By default the documents must already exist in the adjacency index.
func WithUpsert(upsert bool) Option {
	return func(o *options) {
		o.upsert = upsert
	}
}

// WithRunID fixes the run id. By default every run draws a new one.
// Runs sharing an id must not overlap.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// WithLogger sets the logger. If nil, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector. If nil, metrics are
// discarded.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithProgress sets where the progress line is written and how often it is
// refreshed. A nil writer disables the monitor.
//
// Default: os.Stdout, every second.
func WithProgress(w io.Writer, interval time.Duration) Option {
	return func(o *options) {
		o.progressWriter = w
		if interval > 0 {
			o.progressInterval = interval
		}
	}
}

// WithLedgerStore sets the blob store failure ledgers are written to.
//
// Default: the current working directory.
func WithLedgerStore(s blobstore.Store) Option {
	return func(o *options) {
		if s != nil {
			o.ledgerStore = s
		}
	}
}

// WithRateLimit paces all store requests of a run, across workers, to rps
// requests per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(o *options) {
		o.rateLimit = rps
	}
}

// WithLookupCache caches up to n node documents per enrichment worker.
// Zero disables the cache.
func WithLookupCache(n int) Option {
	return func(o *options) {
		o.lookupCache = n
	}
}

// WithTempDir sets the parent directory of per-run shard files.
//
// Default: os.TempDir().
func WithTempDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.tempDir = dir
		}
	}
}

// WithOutput sets the name and codec of the stitched output. The codec's
// extension is appended to name.
//
// Default: "merged_edges.jsonl", uncompressed.
func WithOutput(name string, codec compress.Codec) Option {
	return func(o *options) {
		o.outputName = name
		o.codec = codec
	}
}

// WithForceScan ignores a cached offset scan of the input.
func WithForceScan(force bool) Option {
	return func(o *options) {
		o.forceScan = force
	}
}

func (o *options) controller() *resource.Controller {
	if o.rateLimit <= 0 {
		return nil
	}
	return resource.NewController(resource.Config{RequestsPerSecond: o.rateLimit})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/graphmat"
	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/internal/config"
)

// Exit codes.
const (
	exitOK    = 0
	exitRun   = 1
	exitUsage = 2
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(err error) error {
	return &ExitError{Code: exitUsage, Err: err}
}

// boundFlags are the persistent flags that override config keys. The key
// is the flag name with dashes replaced by underscores.
var boundFlags = []string{
	"store", "es-url", "request-timeout", "dynamo-table-prefix",
	"node-index", "edge-index", "adjacency-index",
	"workers", "concurrency", "page-size", "bulk-size", "batch-size", "rate-limit",
	"output-store", "output-bucket", "output-prefix", "minio-endpoint", "aws-region",
	"log-level", "log-format", "metrics-addr",
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	v          *viper.Viper
	configFile string
	envDir     string

	cfg      *config.Config
	logger   *graphmat.Logger
	registry *prometheus.Registry
	metrics  *promCollector
	server   *http.Server

	// Test seams; nil means build from cfg.
	openStore graphmat.StoreFactory
	blobs     blobstore.Store
}

func newApp(stdout, stderr io.Writer) *app {
	reg := prometheus.NewRegistry()
	return &app{
		stdout:   stdout,
		stderr:   stderr,
		v:        viper.New(),
		envDir:   ".",
		logger:   graphmat.NoopLogger(),
		registry: reg,
		metrics:  newPromCollector(reg),
	}
}

// execute runs the command line and returns the process exit code.
func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.stopMetrics()
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(a.stderr, "Error:", err)
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return exitRun
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "graphmat",
		Short:         "Materialize adjacency lists and enriched edges from a document store",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("store", "", "document store: elasticsearch or dynamodb (default elasticsearch)")
	flags.String("es-url", "", "Elasticsearch URL (default from SERVER and PORT)")
	flags.Duration("request-timeout", 0, "per-request store timeout (default 1m)")
	flags.String("dynamo-table-prefix", "", "prefix of DynamoDB table names")
	flags.String("node-index", "", "node index (default nodes)")
	flags.String("edge-index", "", "edge index (default edges)")
	flags.String("adjacency-index", "", "adjacency index (default adjacency_list)")
	flags.Int("workers", 0, "worker processes, one store connection each (default 8)")
	flags.Int("concurrency", 0, "node resolutions in flight per worker (default 5)")
	flags.Int("page-size", 0, "edges per query page (default 10000)")
	flags.Int("bulk-size", 0, "actions per bulk request (default 2000)")
	flags.Int("batch-size", 0, "lines per enrichment shard (default 10000)")
	flags.Float64("rate-limit", 0, "store requests per second across workers, 0 for unlimited")
	flags.String("output-store", "", "where outputs and ledgers go: local, s3 or minio (default local)")
	flags.String("output-bucket", "", "bucket for s3 and minio output stores")
	flags.String("output-prefix", "", "key prefix, or the directory for the local output store")
	flags.String("minio-endpoint", "", "MinIO endpoint host:port")
	flags.String("aws-region", "", "AWS region for DynamoDB and S3")
	flags.String("log-level", "", "debug, info, warn or error (default info)")
	flags.String("log-format", "", "text or json (default text)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	for _, name := range boundFlags {
		_ = a.v.BindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}

	root.AddCommand(
		a.adjacencyCmd(),
		a.enrichCmd(),
		a.offsetsCmd(),
		a.batchCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	if _, err := config.LoadDotEnv(a.envDir); err != nil {
		return usageError(err)
	}
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return usageError(err)
	}
	a.cfg = cfg

	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		a.logger = graphmat.NewLogger(slog.NewJSONHandler(a.stderr, opts))
	} else {
		a.logger = graphmat.NewLogger(slog.NewTextHandler(a.stderr, opts))
	}

	if cfg.MetricsAddr != "" {
		a.startMetrics(ctx, cfg.MetricsAddr)
	}
	return nil
}

func (a *app) metricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
}

func (a *app) startMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metricsHandler())
	a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.ErrorContext(ctx, "metrics server failed", "addr", addr, "error", err)
		}
	}()
	a.logger.InfoContext(ctx, "serving metrics", "addr", addr)
}

func (a *app) stopMetrics() {
	if a.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.server.Shutdown(ctx)
}

// runner builds a Runner from the loaded configuration.
func (a *app) runner(ledgers blobstore.Store, extra ...graphmat.Option) (*graphmat.Runner, error) {
	c := a.cfg
	opts := []graphmat.Option{
		graphmat.WithWorkers(c.Workers),
		graphmat.WithConcurrency(c.Concurrency),
		graphmat.WithPageSize(c.PageSize),
		graphmat.WithBulkSize(c.BulkSize),
		graphmat.WithBatchSize(c.BatchSize),
		graphmat.WithNodeIndex(c.NodeIndex),
		graphmat.WithEdgeIndex(c.EdgeIndex),
		graphmat.WithAdjacencyIndex(c.AdjacencyIndex),
		graphmat.WithRateLimit(c.RateLimit),
		graphmat.WithLogger(a.logger),
		graphmat.WithMetricsCollector(a.metrics),
		graphmat.WithProgress(a.stdout, 0),
		graphmat.WithLedgerStore(ledgers),
	}
	r, err := graphmat.New(append(opts, extra...)...)
	if err != nil {
		return nil, usageError(err)
	}
	return r, nil
}

func (a *app) report(res *graphmat.Result) {
	if res == nil {
		return
	}
	fmt.Fprintf(a.stdout, "Run %s: %d/%d processed, %d failed in %s\n",
		res.RunID, res.Processed, res.Total, res.Failed, res.Duration.Round(time.Millisecond))
	if res.Ledger != "" {
		fmt.Fprintf(a.stdout, "Failed ids written to %s\n", res.Ledger)
	}
	if res.Output != "" {
		fmt.Fprintf(a.stdout, "Output written to %s\n", res.Output)
	}
}

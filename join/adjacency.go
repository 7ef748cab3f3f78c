package join

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/graphmat/internal/resource"
	"github.com/hupe1980/graphmat/ledger"
	"github.com/hupe1980/graphmat/model"
	"github.com/hupe1980/graphmat/progress"
	"github.com/hupe1980/graphmat/store"
)

const (
	// DefaultConcurrency is the number of node resolutions in flight per
	// worker.
	DefaultConcurrency = resource.DefaultMaxInFlight

	// SubjectField and ObjectField are the edge attributes holding node ids.
	SubjectField = "subject"
	ObjectField  = "object"
)

// AdjacencyOption configures an AdjacencyBuilder.
type AdjacencyOption func(*AdjacencyBuilder)

// WithAdjacencyEdgeIndex sets the index edges are queried from.
func WithAdjacencyEdgeIndex(index string) AdjacencyOption {
	return func(b *AdjacencyBuilder) {
		b.edgeIndex = index
	}
}

// WithPageSize sets the page size of edge queries.
func WithPageSize(n int) AdjacencyOption {
	return func(b *AdjacencyBuilder) {
		if n > 0 {
			b.pageSize = n
		}
	}
}

// WithSortKey sets the stable sort key used for pagination.
func WithSortKey(key string) AdjacencyOption {
	return func(b *AdjacencyBuilder) {
		if key != "" {
			b.sortKey = key
		}
	}
}

// WithConcurrency bounds the node resolutions in flight.
func WithConcurrency(n int) AdjacencyOption {
	return func(b *AdjacencyBuilder) {
		if n > 0 {
			b.limiter = resource.NewController(resource.Config{MaxInFlight: int64(n)})
		}
	}
}

// WithController installs a shared admission controller instead of a
// private one.
func WithController(c *resource.Controller) AdjacencyOption {
	return func(b *AdjacencyBuilder) {
		if c != nil {
			b.limiter = c
		}
	}
}

// WithUpsert makes actions create missing adjacency documents.
func WithUpsert(upsert bool) AdjacencyOption {
	return func(b *AdjacencyBuilder) {
		b.upsert = upsert
	}
}

// WithAdjacencyLogger sets the logger.
func WithAdjacencyLogger(l *slog.Logger) AdjacencyOption {
	return func(b *AdjacencyBuilder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithFailureHook replaces the default warning logged for a failed node.
func WithFailureHook(fn func(id string, err error)) AdjacencyOption {
	return func(b *AdjacencyBuilder) {
		b.onFailure = fn
	}
}

// AdjacencyBuilder computes per-node adjacency lists. It is owned by a
// single worker.
type AdjacencyBuilder struct {
	store     store.Store
	edgeIndex string
	pageSize  int
	sortKey   string
	upsert    bool
	limiter   *resource.Controller
	logger    *slog.Logger
	onFailure func(id string, err error)
}

// NewAdjacencyBuilder creates a builder on st.
func NewAdjacencyBuilder(st store.Store, opts ...AdjacencyOption) *AdjacencyBuilder {
	b := &AdjacencyBuilder{
		store:     st,
		edgeIndex: DefaultEdgeIndex,
		pageSize:  DefaultPageSize,
		sortKey:   DefaultSortKey,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.limiter == nil {
		b.limiter = resource.NewController(resource.Config{MaxInFlight: DefaultConcurrency})
	}
	if b.onFailure == nil {
		b.onFailure = func(id string, err error) {
			b.logger.Warn("node failed", "id", id, "reason", err)
		}
	}
	return b
}

// Resolve fetches the out and in edges of one node. Both directions are
// paginated concurrently; the first error cancels the other.
func (b *AdjacencyBuilder) Resolve(ctx context.Context, id string) (model.AdjacencyDoc, error) {
	doc := model.AdjacencyDoc{NodeID: id}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		edges, err := b.edges(gctx, SubjectField, id)
		doc.OutEdges = edges
		return err
	})
	g.Go(func() error {
		edges, err := b.edges(gctx, ObjectField, id)
		doc.InEdges = edges
		return err
	})
	if err := g.Wait(); err != nil {
		return model.AdjacencyDoc{}, err
	}
	return doc, nil
}

func (b *AdjacencyBuilder) edges(ctx context.Context, field, id string) ([]model.Edge, error) {
	q := store.PageQuery{
		Index:   b.edgeIndex,
		Field:   field,
		Value:   id,
		SortKey: b.sortKey,
		Size:    b.pageSize,
	}
	edges := []model.Edge{}
	err := PaginateFunc(ctx, b.store, q, func(p store.Page) error {
		for _, h := range p.Hits {
			e, err := h.Document().Edge()
			if err != nil {
				return fmt.Errorf("%w: %v", store.ErrMalformedResponse, err)
			}
			edges = append(edges, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("join: %s edges of %s: %w", field, id, err)
	}
	return edges, nil
}

// Action converts doc into an update of its node's adjacency document.
func (b *AdjacencyBuilder) Action(doc model.AdjacencyDoc) (store.Action, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return store.Action{}, err
	}
	return store.Action{Op: store.OpUpdate, ID: doc.NodeID, Doc: body, Upsert: b.upsert}, nil
}

type nodeResult struct {
	id  string
	doc model.AdjacencyDoc
	err error
}

// Build resolves every id and passes one update action per resolved node
// to emit. Nodes are resolved concurrently up to the builder's limit and
// results are consumed in completion order by a single consumer. A node
// that fails is recorded in failures and produces no action. The slot is
// incremented once per attempted node.
//
// Build returns an error only if ctx ends or emit fails. After an emit
// failure the remaining results are drained into failures.
func (b *AdjacencyBuilder) Build(ctx context.Context, ids []string, emit func(store.Action) error, slot *progress.Slot, failures *ledger.Ledger) error {
	results := make(chan nodeResult)

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(results)
		}()
		for _, id := range ids {
			if err := b.limiter.Acquire(ctx); err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				doc, err := b.Resolve(ctx, id)
				b.limiter.Release()
				results <- nodeResult{id: id, doc: doc, err: err}
			}()
		}
	}()

	var emitErr error
	for r := range results {
		slot.Add(1)
		if r.err != nil {
			b.onFailure(r.id, r.err)
			failures.Append(r.id)
			continue
		}
		if emitErr != nil {
			failures.Append(r.id)
			continue
		}
		action, err := b.Action(r.doc)
		if err != nil {
			failures.Append(r.id)
			continue
		}
		if err := emit(action); err != nil {
			failures.Append(r.id)
			emitErr = err
		}
	}

	b.logger.DebugContext(ctx, "nodes resolved",
		"nodes", len(ids),
		"peak_in_flight", b.limiter.PeakInFlight(),
		"max_in_flight", b.limiter.MaxInFlight(),
	)
	if emitErr != nil {
		return emitErr
	}
	return ctx.Err()
}

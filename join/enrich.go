package join

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/ledger"
	"github.com/hupe1980/graphmat/model"
	"github.com/hupe1980/graphmat/progress"
	"github.com/hupe1980/graphmat/shard"
	"github.com/hupe1980/graphmat/store"
)

const (
	// DefaultNodeIndex holds the node documents edges refer to.
	DefaultNodeIndex = "nodes"
	// DefaultEdgeIndex holds the edge documents.
	DefaultEdgeIndex = "edges"
)

// MalformedInputError reports an input line that is not a JSON edge object.
// It is fatal for the shard that contains it.
type MalformedInputError struct {
	Shard  int
	Line   int   // 1-based line number within the shard
	Offset int64 // byte offset of the line in the input
	Err    error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("join: shard %d line %d (offset %d): malformed edge: %v", e.Shard, e.Line, e.Offset, e.Err)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// Writer receives the serialized records of one shard.
type Writer interface {
	Write(index int, lines [][]byte) error
}

// EnricherOption configures an EdgeEnricher.
type EnricherOption func(*EdgeEnricher)

// WithNodeIndex sets the index references are resolved against.
func WithNodeIndex(index string) EnricherOption {
	return func(e *EdgeEnricher) {
		e.nodeIndex = index
	}
}

// WithEdgeIndex sets the index EnrichIDs fetches edges from.
func WithEdgeIndex(index string) EnricherOption {
	return func(e *EdgeEnricher) {
		e.edgeIndex = index
	}
}

// WithEnricherLogger sets the logger.
func WithEnricherLogger(l *slog.Logger) EnricherOption {
	return func(e *EdgeEnricher) {
		if l != nil {
			e.logger = l
		}
	}
}

// EdgeEnricher joins edges with the nodes they reference. It is owned by a
// single worker.
type EdgeEnricher struct {
	store     store.Store
	nodeIndex string
	edgeIndex string
	logger    *slog.Logger
}

// NewEdgeEnricher creates an enricher on st.
func NewEdgeEnricher(st store.Store, opts ...EnricherOption) *EdgeEnricher {
	e := &EdgeEnricher{
		store:     st,
		nodeIndex: DefaultNodeIndex,
		edgeIndex: DefaultEdgeIndex,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich resolves the references of edges with one batched lookup. A
// reference missing from the node index keeps its raw id.
func (e *EdgeEnricher) Enrich(ctx context.Context, edges []model.Edge) ([]model.ResolvedEdge, error) {
	var refs []string
	for _, edge := range edges {
		refs = append(refs, edge.References()...)
	}
	refs = store.Distinct(refs)

	nodes := make(map[string]model.Node, len(refs))
	if len(refs) > 0 {
		docs, err := e.store.LookupMany(ctx, e.nodeIndex, refs)
		if err != nil {
			return nil, fmt.Errorf("join: lookup %d nodes: %w", len(refs), err)
		}
		for id, doc := range docs {
			n, err := doc.Node()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", store.ErrMalformedResponse, err)
			}
			nodes[id] = n
		}
		if missing := len(refs) - len(nodes); missing > 0 {
			e.logger.Debug("unresolved references", "missing", missing, "requested", len(refs))
		}
	}

	out := make([]model.ResolvedEdge, len(edges))
	for i, edge := range edges {
		out[i] = model.Resolve(edge, nodes)
	}
	return out, nil
}

// EnrichRange reads the edges of r from blob, one JSON object per line,
// resolves them and hands the serialized result to w under the shard index.
// The slot is incremented by the number of records written.
func (e *EdgeEnricher) EnrichRange(ctx context.Context, blob blobstore.Blob, r shard.Range, w Writer, slot *progress.Slot) error {
	edges, err := readEdges(ctx, blob, r)
	if err != nil {
		return err
	}
	resolved, err := e.Enrich(ctx, edges)
	if err != nil {
		return fmt.Errorf("join: shard %d: %w", r.Index, err)
	}
	lines, err := encodeLines(resolved)
	if err != nil {
		return fmt.Errorf("join: shard %d: %w", r.Index, err)
	}
	if err := w.Write(r.Index, lines); err != nil {
		return err
	}
	slot.Add(int64(len(lines)))
	return nil
}

// EnrichIDs fetches the edges named by c from the edge index, resolves them
// and hands the result to w. Ids missing from the edge index or not decodable
// as edges are recorded in failures. The slot is incremented once per id.
func (e *EdgeEnricher) EnrichIDs(ctx context.Context, c shard.IDChunk, w Writer, slot *progress.Slot, failures *ledger.Ledger) error {
	docs, err := e.store.LookupMany(ctx, e.edgeIndex, c.IDs)
	if err != nil {
		return fmt.Errorf("join: shard %d: lookup %d edges: %w", c.Index, len(c.IDs), err)
	}

	edges := make([]model.Edge, 0, len(c.IDs))
	for _, id := range c.IDs {
		doc, ok := docs[id]
		if !ok {
			e.logger.Warn("edge not found", "shard", c.Index, "id", id)
			failures.Append(id)
			continue
		}
		edge, err := doc.Edge()
		if err != nil {
			e.logger.Warn("undecodable edge", "shard", c.Index, "id", id, "reason", err)
			failures.Append(id)
			continue
		}
		edges = append(edges, edge)
	}

	resolved, err := e.Enrich(ctx, edges)
	if err != nil {
		return fmt.Errorf("join: shard %d: %w", c.Index, err)
	}
	lines, err := encodeLines(resolved)
	if err != nil {
		return fmt.Errorf("join: shard %d: %w", c.Index, err)
	}
	if err := w.Write(c.Index, lines); err != nil {
		return err
	}
	slot.Add(int64(len(c.IDs)))
	return nil
}

func readEdges(ctx context.Context, blob blobstore.Blob, r shard.Range) ([]model.Edge, error) {
	rc, err := blob.ReadRange(ctx, r.Start, r.Len(blob.Size()))
	if err != nil {
		return nil, fmt.Errorf("join: shard %d: read range: %w", r.Index, err)
	}
	defer rc.Close()

	var (
		edges  []model.Edge
		br     = bufio.NewReaderSize(rc, 1<<20)
		offset = r.Start
	)
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("join: shard %d: read: %w", r.Index, err)
		}
		start := offset
		offset += int64(len(line))

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var edge model.Edge
			if uerr := json.Unmarshal(trimmed, &edge); uerr != nil {
				return nil, &MalformedInputError{Shard: r.Index, Line: lineNo, Offset: start, Err: uerr}
			}
			edges = append(edges, edge)
		}
		if err != nil {
			return edges, nil
		}
	}
}

func encodeLines(edges []model.ResolvedEdge) ([][]byte, error) {
	lines := make([][]byte, len(edges))
	for i, edge := range edges {
		b, err := json.Marshal(edge)
		if err != nil {
			return nil, err
		}
		lines[i] = b
	}
	return lines, nil
}

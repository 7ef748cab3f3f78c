package join

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/graphmat/blobstore"
	"github.com/hupe1980/graphmat/ledger"
	"github.com/hupe1980/graphmat/progress"
	"github.com/hupe1980/graphmat/shard"
	"github.com/hupe1980/graphmat/store/memory"
	"github.com/hupe1980/graphmat/testutil"
)

type captureWriter struct {
	mu     sync.Mutex
	shards map[int][][]byte
	err    error
}

func (w *captureWriter) Write(index int, lines [][]byte) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.shards == nil {
		w.shards = make(map[int][][]byte)
	}
	w.shards[index] = lines
	return nil
}

func openBlob(t *testing.T, data []byte) blobstore.Blob {
	t.Helper()
	bs := blobstore.NewMemoryStore()
	require.NoError(t, bs.Put(context.Background(), "edges.jsonl", data))
	b, err := bs.Open(context.Background(), "edges.jsonl")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestEnrichRange(t *testing.T) {
	st := memory.New()
	st.Put("nodes", "A", []byte(`{"id":"A","name":"alpha"}`))
	st.Put("nodes", "B", []byte(`{"id":"B","name":"beta"}`))

	data := []byte(`{"id":"e1","subject":"A","object":"B","predicate":"knows"}
{"id":"e2","subject":"B","object":"Z"}

{"id":"e3","object":"A"}
`)
	blob := openBlob(t, data)
	w := &captureWriter{}
	var slot progress.Slot

	e := NewEdgeEnricher(st)
	require.NoError(t, e.EnrichRange(context.Background(), blob, shard.Range{Index: 4, Start: 0, End: shard.EOF}, w, &slot))

	lines := w.shards[4]
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"id":"e1","subject":{"id":"A","name":"alpha"},"object":{"id":"B","name":"beta"},"predicate":"knows"}`, string(lines[0]))
	assert.JSONEq(t, `{"id":"e2","subject":{"id":"B","name":"beta"},"object":"Z"}`, string(lines[1]))
	assert.JSONEq(t, `{"id":"e3","object":{"id":"A","name":"alpha"}}`, string(lines[2]))

	assert.Equal(t, int64(3), slot.Load())
	assert.Equal(t, int64(1), st.Stats().Lookups, "references resolved in one batch")
}

func TestEnrichRange_Shards(t *testing.T) {
	g := testutil.NewRNG(4711).Graph(20, 95)
	st := memory.New()
	require.NoError(t, g.Load(st, DefaultNodeIndex, DefaultEdgeIndex))

	data := g.JSONL()
	scan, err := shard.ScanOffsets(bytes.NewReader(data), 10)
	require.NoError(t, err)
	ranges := shard.Ranges(scan.Offsets)
	require.Len(t, ranges, 10)

	blob := openBlob(t, data)
	w := &captureWriter{}
	var slot progress.Slot
	e := NewEdgeEnricher(st)
	for _, r := range ranges {
		require.NoError(t, e.EnrichRange(context.Background(), blob, r, w, &slot))
	}

	var n int
	for i := range ranges {
		for j, line := range w.shards[i] {
			edge := g.Edges[n]
			assert.Contains(t, string(line), fmt.Sprintf(`"id":"%s"`, edge.ID), "shard %d line %d", i, j)
			assert.Contains(t, string(line), fmt.Sprintf(`"subject":{"id":"%s"`, edge.Subject))
			n++
		}
	}
	assert.Equal(t, len(g.Edges), n)
	assert.Equal(t, int64(len(g.Edges)), slot.Load())
	assert.Equal(t, int64(len(ranges)), st.Stats().Lookups)
}

func TestEnrichRange_MalformedLine(t *testing.T) {
	data := []byte("{\"id\":\"e1\",\"subject\":\"A\"}\nnot json\n")
	blob := openBlob(t, data)
	w := &captureWriter{}
	var slot progress.Slot

	err := NewEdgeEnricher(memory.New()).EnrichRange(context.Background(), blob, shard.Range{Index: 2, End: shard.EOF}, w, &slot)

	var mie *MalformedInputError
	require.ErrorAs(t, err, &mie)
	assert.Equal(t, 2, mie.Shard)
	assert.Equal(t, 2, mie.Line)
	assert.Equal(t, int64(26), mie.Offset)
	assert.Empty(t, w.shards)
	assert.Zero(t, slot.Load())
}

func TestEnrichRange_LookupError(t *testing.T) {
	boom := errors.New("connection reset")
	st := memory.New(memory.WithFault(func(context.Context, memory.Call) error { return boom }))
	blob := openBlob(t, []byte(`{"id":"e1","subject":"A"}`))

	err := NewEdgeEnricher(st).EnrichRange(context.Background(), blob, shard.Range{End: shard.EOF}, &captureWriter{}, nil)
	require.ErrorIs(t, err, boom)
}

func TestEnrichRange_WriterError(t *testing.T) {
	blob := openBlob(t, []byte(`{"id":"e1"}`))
	w := &captureWriter{err: errors.New("disk full")}
	var slot progress.Slot

	err := NewEdgeEnricher(memory.New()).EnrichRange(context.Background(), blob, shard.Range{End: shard.EOF}, w, &slot)
	require.Error(t, err)
	assert.Zero(t, slot.Load())
}

func TestEnrichIDs(t *testing.T) {
	st := memory.New()
	st.Put("graph_nodes", "A", []byte(`{"id":"A"}`))
	st.Put("graph_edges", "e1", []byte(`{"id":"e1","subject":"A","object":"B"}`))
	st.Put("graph_edges", "e2", []byte(`{"id":"e2","subject":"B","object":"A"}`))
	st.Put("graph_edges", "bad", []byte(`{"id":"bad","subject":[1]}`))

	w := &captureWriter{}
	var slot progress.Slot
	failures := ledger.New()

	e := NewEdgeEnricher(st, WithNodeIndex("graph_nodes"), WithEdgeIndex("graph_edges"))
	err := e.EnrichIDs(context.Background(), shard.IDChunk{Index: 1, IDs: []string{"e2", "missing", "e1", "bad"}}, w, &slot, failures)
	require.NoError(t, err)

	lines := w.shards[1]
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"id":"e2","subject":"B","object":{"id":"A"}}`, string(lines[0]))
	assert.JSONEq(t, `{"id":"e1","subject":{"id":"A"},"object":"B"}`, string(lines[1]))

	assert.Equal(t, []string{"missing", "bad"}, failures.IDs())
	assert.Equal(t, int64(4), slot.Load())
}

package join

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/graphmat/internal/resource"
	"github.com/hupe1980/graphmat/ledger"
	"github.com/hupe1980/graphmat/model"
	"github.com/hupe1980/graphmat/progress"
	"github.com/hupe1980/graphmat/store"
	"github.com/hupe1980/graphmat/store/memory"
	"github.com/hupe1980/graphmat/testutil"
)

type actionCollector struct {
	mu      sync.Mutex
	actions []store.Action
}

func (c *actionCollector) emit(a store.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, a)
	return nil
}

func (c *actionCollector) byID() map[string]store.Action {
	out := make(map[string]store.Action, len(c.actions))
	for _, a := range c.actions {
		out[a.ID] = a
	}
	return out
}

func TestBuild_EndToEnd(t *testing.T) {
	st := memory.New()
	for _, id := range []string{"A", "B", "C", "X"} {
		st.Put("nodes", id, []byte(`{"id":"`+id+`"}`))
		st.Put("adjacency", id, []byte(`{"id":"`+id+`"}`))
	}
	st.Put("edges", "e1", []byte(`{"id":"e1","subject":"A","object":"B"}`))
	st.Put("edges", "e2", []byte(`{"id":"e2","subject":"A","object":"X"}`))
	st.Put("edges", "e3", []byte(`{"id":"e3","subject":"C","object":"A"}`))

	c := &actionCollector{}
	var slot progress.Slot
	failures := ledger.New()

	b := NewAdjacencyBuilder(st)
	require.NoError(t, b.Build(context.Background(), []string{"A"}, c.emit, &slot, failures))

	require.Len(t, c.actions, 1)
	a := c.actions[0]
	assert.Equal(t, store.OpUpdate, a.Op)
	assert.Equal(t, "A", a.ID)
	assert.False(t, a.Upsert)
	assert.JSONEq(t, `{
		"out_edges":[{"id":"e1","subject":"A","object":"B"},{"id":"e2","subject":"A","object":"X"}],
		"in_edges":[{"id":"e3","subject":"C","object":"A"}]
	}`, string(a.Doc))

	res, err := st.BulkUpsert(context.Background(), "adjacency", c.actions)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	src, _ := st.Get("adjacency", "A")
	var doc model.AdjacencyDoc
	require.NoError(t, json.Unmarshal(src, &doc))
	assert.Len(t, doc.OutEdges, 2)
	assert.Len(t, doc.InEdges, 1)

	for _, id := range []string{"B", "C"} {
		src, _ := st.Get("adjacency", id)
		assert.JSONEq(t, `{"id":"`+id+`"}`, string(src), "%s must not be touched", id)
	}

	assert.Equal(t, int64(1), slot.Load())
	assert.Zero(t, failures.Len())
}

func TestBuild_Pagination(t *testing.T) {
	g := testutil.NewRNG(99).Graph(12, 200)
	st := memory.New()
	require.NoError(t, g.Load(st, DefaultNodeIndex, DefaultEdgeIndex))

	c := &actionCollector{}
	var slot progress.Slot
	b := NewAdjacencyBuilder(st, WithPageSize(3), WithConcurrency(4))
	require.NoError(t, b.Build(context.Background(), g.NodeIDs(), c.emit, &slot, ledger.New()))

	actions := c.byID()
	require.Len(t, actions, len(g.Nodes))
	for _, id := range g.NodeIDs() {
		var doc model.AdjacencyDoc
		require.NoError(t, json.Unmarshal(actions[id].Doc, &doc))
		assert.Equal(t, edgeIDs(g.OutEdges(id)), edgeIDs(doc.OutEdges), "out edges of %s", id)
		assert.Equal(t, edgeIDs(g.InEdges(id)), edgeIDs(doc.InEdges), "in edges of %s", id)
	}
	assert.Equal(t, int64(len(g.Nodes)), slot.Load())
}

func TestBuild_FailureIsolation(t *testing.T) {
	g := testutil.NewRNG(5).Graph(10, 40)
	bad := testutil.NodeID(3)
	st := memory.New(memory.WithFault(func(_ context.Context, c memory.Call) error {
		if c.Op == "query" && c.Value == bad && c.Field == ObjectField {
			return errors.New("request timeout")
		}
		return nil
	}))
	require.NoError(t, g.Load(st, DefaultNodeIndex, DefaultEdgeIndex))

	c := &actionCollector{}
	var slot progress.Slot
	failures := ledger.New()

	err := NewAdjacencyBuilder(st).Build(context.Background(), g.NodeIDs(), c.emit, &slot, failures)
	require.NoError(t, err)

	assert.Len(t, c.actions, len(g.Nodes)-1)
	assert.NotContains(t, c.byID(), bad)
	assert.Equal(t, []string{bad}, failures.IDs())
	assert.Equal(t, int64(len(g.Nodes)), slot.Load())
}

func TestBuild_ConcurrencyLimit(t *testing.T) {
	g := testutil.NewRNG(8).Graph(30, 60)
	st := memory.New(memory.WithFault(func(ctx context.Context, _ memory.Call) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	}))
	require.NoError(t, g.Load(st, DefaultNodeIndex, DefaultEdgeIndex))

	ctrl := resource.NewController(resource.Config{MaxInFlight: 3})
	c := &actionCollector{}
	err := NewAdjacencyBuilder(st, WithController(ctrl)).Build(context.Background(), g.NodeIDs(), c.emit, nil, ledger.New())
	require.NoError(t, err)

	assert.Len(t, c.actions, 30)
	assert.LessOrEqual(t, ctrl.PeakInFlight(), int64(3))
	assert.Zero(t, ctrl.InFlight())
}

func TestBuild_Upsert(t *testing.T) {
	st := memory.New()
	c := &actionCollector{}
	require.NoError(t, NewAdjacencyBuilder(st, WithUpsert(true)).Build(context.Background(), []string{"lonely"}, c.emit, nil, ledger.New()))

	require.Len(t, c.actions, 1)
	assert.True(t, c.actions[0].Upsert)
	assert.JSONEq(t, `{"out_edges":[],"in_edges":[]}`, string(c.actions[0].Doc))
}

func TestBuild_EmitError(t *testing.T) {
	g := testutil.NewRNG(2).Graph(6, 10)
	st := memory.New()
	require.NoError(t, g.Load(st, DefaultNodeIndex, DefaultEdgeIndex))

	sinkDown := errors.New("sink down")
	failures := ledger.New()
	var slot progress.Slot

	err := NewAdjacencyBuilder(st).Build(context.Background(), g.NodeIDs(), func(store.Action) error { return sinkDown }, &slot, failures)
	require.ErrorIs(t, err, sinkDown)
	assert.Equal(t, len(g.Nodes), failures.Len())
	assert.Equal(t, int64(len(g.Nodes)), slot.Load())
}

func TestBuild_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &actionCollector{}
	err := NewAdjacencyBuilder(memory.New()).Build(ctx, []string{"A", "B"}, c.emit, nil, ledger.New())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.actions)
}

func TestResolve_MalformedEdge(t *testing.T) {
	st := memory.New()
	st.Put("edges", "e1", []byte(`{"id":"e1","subject":"A","object":{"nested":true}}`))

	_, err := NewAdjacencyBuilder(st).Resolve(context.Background(), "A")
	require.ErrorIs(t, err, store.ErrMalformedResponse)
}

func edgeIDs(edges []model.Edge) []string {
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return ids
}

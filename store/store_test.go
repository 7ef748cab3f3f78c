package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/graphmat/internal/resource"
	"github.com/hupe1980/graphmat/store"
	"github.com/hupe1980/graphmat/store/memory"
)

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, store.Distinct([]string{"A", "", "B", "A", "C", "B"}))
	assert.Empty(t, store.Distinct(nil))
}

func TestCachingStore(t *testing.T) {
	inner := memory.New()
	for i := range 10 {
		inner.Put("nodes", fmt.Sprintf("N%d", i), []byte(fmt.Sprintf(`{"id":"N%d"}`, i)))
	}
	cs := store.NewCachingStore(inner, 100, store.WithLookupChunk(3), store.WithLookupParallelism(2))
	ctx := context.Background()

	ids := []string{"N0", "N1", "N2", "N3", "N4", "N5", "N6", "missing"}
	docs, err := cs.LookupMany(ctx, "nodes", ids)
	require.NoError(t, err)
	assert.Len(t, docs, 7)
	// 8 misses in chunks of 3
	assert.Equal(t, int64(3), inner.Stats().Lookups)

	docs, err = cs.LookupMany(ctx, "nodes", []string{"N0", "N1", "N1"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, int64(3), inner.Stats().Lookups)

	hits, _ := cs.Stats()
	assert.Equal(t, int64(2), hits)

	// Writes drop cached entries
	_, err = cs.BulkUpsert(ctx, "nodes", []store.Action{{Op: store.OpIndex, ID: "N0", Doc: []byte(`{"id":"N0","v":2}`)}})
	require.NoError(t, err)
	docs, err = cs.LookupMany(ctx, "nodes", []string{"N0"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"N0","v":2}`, string(docs["N0"].Source))
}

func TestCachingStore_PropagatesErrors(t *testing.T) {
	boom := errors.New("unavailable")
	inner := memory.New(memory.WithFault(func(context.Context, memory.Call) error { return boom }))
	cs := store.NewCachingStore(inner, 10)

	_, err := cs.LookupMany(context.Background(), "nodes", []string{"A"})
	assert.ErrorIs(t, err, boom)
}

func TestThrottled(t *testing.T) {
	inner := memory.New()
	assert.Same(t, store.Store(inner), store.Throttled(inner, nil))

	rc := resource.NewController(resource.Config{RequestsPerSecond: 1000, Burst: 1})
	st := store.Throttled(inner, rc)
	for range 3 {
		_, err := st.LookupMany(context.Background(), "nodes", []string{"A"})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), inner.Stats().Lookups)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := st.QueryPage(ctx, store.PageQuery{Index: "edges", Size: 1})
	assert.Error(t, err)
}

type recordingObserver struct {
	mu      sync.Mutex
	lookups int
	queries int
	bulkErr error
	failed  int
}

func (o *recordingObserver) OnLookup(string, int, int, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups++
}

func (o *recordingObserver) OnQuery(string, string, int, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries++
}

func (o *recordingObserver) OnBulk(_ string, _ int, failed int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed += failed
	o.bulkErr = err
}

func TestInstrumented(t *testing.T) {
	boom := errors.New("bulk rejected")
	inner := memory.New(memory.WithFault(func(_ context.Context, c memory.Call) error {
		if c.Op == "bulk" {
			return boom
		}
		return nil
	}))
	obs := &recordingObserver{}
	st := store.Instrumented(inner, obs)
	ctx := context.Background()

	_, _ = st.LookupMany(ctx, "nodes", []string{"A"})
	_, _ = st.QueryPage(ctx, store.PageQuery{Index: "edges", Size: 1})
	_, err := st.BulkUpsert(ctx, "adj", []store.Action{{ID: "A"}, {ID: "B"}})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 1, obs.lookups)
	assert.Equal(t, 1, obs.queries)
	assert.Equal(t, 2, obs.failed)
	assert.ErrorIs(t, obs.bulkErr, boom)

	assert.Same(t, store.Store(inner), store.Instrumented(inner, nil))
	assert.NoError(t, store.Close(st))
}

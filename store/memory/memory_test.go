package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/graphmat/store"
)

func seedEdges(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := range n {
		id := fmt.Sprintf("e%03d", i)
		require.NoError(t, s.PutJSON("edges", id, map[string]any{"id": id, "subject": "A", "object": fmt.Sprintf("N%d", i)}))
	}
	require.NoError(t, s.PutJSON("edges", "other", map[string]any{"id": "other", "subject": "B", "object": "A"}))
}

func TestLookupMany(t *testing.T) {
	s := New()
	s.Put("nodes", "A", []byte(`{"id":"A","name":"alpha"}`))

	docs, err := s.LookupMany(context.Background(), "nodes", []string{"A", "Z"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"id":"A","name":"alpha"}`, string(docs["A"].Source))
	assert.Equal(t, int64(1), s.Stats().Lookups)
}

func TestQueryPage_Pagination(t *testing.T) {
	s := New()
	seedEdges(t, s, 7)
	ctx := context.Background()

	q := store.PageQuery{Index: "edges", Field: "subject", Value: "A", SortKey: "id", Size: 3}
	var got []string
	for {
		page, err := s.QueryPage(ctx, q)
		require.NoError(t, err)
		for _, h := range page.Hits {
			got = append(got, h.ID)
		}
		if len(page.Hits) < q.Size {
			break
		}
		q.After = page.Next
	}
	assert.Equal(t, []string{"e000", "e001", "e002", "e003", "e004", "e005", "e006"}, got)

	page, err := s.QueryPage(ctx, store.PageQuery{Index: "edges", Field: "object", Value: "A", SortKey: "id", Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Hits, 1)
	assert.Equal(t, "other", page.Hits[0].ID)
	assert.Equal(t, store.Cursor{"other"}, page.Next)
}

func TestQueryPage_Errors(t *testing.T) {
	s := New()
	_, err := s.QueryPage(context.Background(), store.PageQuery{Index: "edges", Size: 0})
	assert.Error(t, err)

	_, err = s.QueryPage(context.Background(), store.PageQuery{Index: "edges", Size: 1, After: store.Cursor{42}})
	assert.ErrorIs(t, err, store.ErrMalformedResponse)
}

func TestBulkUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Put("adj", "A", []byte(`{"id":"A","name":"alpha"}`))

	res, err := s.BulkUpsert(ctx, "adj", []store.Action{
		{Op: store.OpUpdate, ID: "A", Doc: []byte(`{"out_edges":[],"in_edges":[]}`)},
		{Op: store.OpUpdate, ID: "B", Doc: []byte(`{"out_edges":[]}`)},
		{Op: store.OpUpdate, ID: "C", Doc: []byte(`{"out_edges":[]}`), Upsert: true},
		{Op: store.OpIndex, ID: "D", Doc: []byte(`{"x":1}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, store.ItemFailure{ID: "B", Reason: "document_missing_exception", Status: 404}, res.Failures[0])

	src, ok := s.Get("adj", "A")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"A","name":"alpha","out_edges":[],"in_edges":[]}`, string(src))
	assert.Equal(t, 3, s.Len("adj"))
}

func TestBulkUpsert_Idempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Put("adj", "A", []byte(`{"id":"A"}`))
	action := store.Action{Op: store.OpUpdate, ID: "A", Doc: []byte(`{"out_edges":[{"id":"e1"}]}`)}

	_, err := s.BulkUpsert(ctx, "adj", []store.Action{action})
	require.NoError(t, err)
	first, _ := s.Get("adj", "A")

	_, err = s.BulkUpsert(ctx, "adj", []store.Action{action})
	require.NoError(t, err)
	second, _ := s.Get("adj", "A")

	assert.JSONEq(t, string(first), string(second))
}

func TestFaults(t *testing.T) {
	boom := errors.New("timeout")
	s := New(WithFault(func(_ context.Context, c Call) error {
		if c.Op == "query" && c.Value == "bad" {
			return boom
		}
		return nil
	}))

	_, err := s.QueryPage(context.Background(), store.PageQuery{Index: "edges", Field: "subject", Value: "bad", Size: 1})
	assert.ErrorIs(t, err, boom)

	_, err = s.QueryPage(context.Background(), store.PageQuery{Index: "edges", Field: "subject", Value: "good", Size: 1})
	assert.NoError(t, err)

	s.FailItems("adj", "mapper_parsing_exception", "X")
	res, err := s.BulkUpsert(context.Background(), "adj", []store.Action{
		{Op: store.OpIndex, ID: "X", Doc: []byte(`{}`)},
		{Op: store.OpIndex, ID: "Y", Doc: []byte(`{}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, "mapper_parsing_exception", res.Failures[0].Reason)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().LookupMany(ctx, "nodes", []string{"A"})
	assert.ErrorIs(t, err, context.Canceled)
}

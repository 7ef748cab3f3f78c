package store

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/graphmat/internal/cache"
	"github.com/hupe1980/graphmat/model"
)

const (
	// DefaultLookupChunk is the number of ids fetched per inner lookup.
	DefaultLookupChunk = 1000
	// DefaultLookupParallelism bounds concurrent inner lookups per call.
	DefaultLookupParallelism = 4
)

type cacheKey struct {
	index string
	id    string
}

// CachingStore wraps a Store and memoizes LookupMany results. Cache misses
// are fetched from the inner store in concurrent chunks.
type CachingStore struct {
	inner       Store
	cache       *cache.LRU[cacheKey, model.Document]
	chunk       int
	parallelism int
}

// CachingOption configures a CachingStore.
type CachingOption func(*CachingStore)

// WithLookupChunk sets the ids per inner lookup.
func WithLookupChunk(n int) CachingOption {
	return func(s *CachingStore) {
		if n > 0 {
			s.chunk = n
		}
	}
}

// WithLookupParallelism sets the concurrent inner lookups per call.
func WithLookupParallelism(n int) CachingOption {
	return func(s *CachingStore) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// NewCachingStore creates a CachingStore holding up to capacity documents.
func NewCachingStore(inner Store, capacity int, opts ...CachingOption) *CachingStore {
	s := &CachingStore{
		inner:       inner,
		cache:       cache.NewLRU[cacheKey, model.Document](capacity),
		chunk:       DefaultLookupChunk,
		parallelism: DefaultLookupParallelism,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LookupMany serves hits from the cache and fetches the rest.
func (s *CachingStore) LookupMany(ctx context.Context, index string, ids []string) (map[string]model.Document, error) {
	ids = Distinct(ids)
	out := make(map[string]model.Document, len(ids))

	var missing []string
	for _, id := range ids {
		if doc, ok := s.cache.Get(cacheKey{index, id}); ok {
			out[id] = doc
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for start := 0; start < len(missing); start += s.chunk {
		chunk := missing[start:min(start+s.chunk, len(missing))]
		g.Go(func() error {
			docs, err := s.inner.LookupMany(gctx, index, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for id, doc := range docs {
				out[id] = doc
				s.cache.Set(cacheKey{index, id}, doc)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryPage passes through.
func (s *CachingStore) QueryPage(ctx context.Context, q PageQuery) (Page, error) {
	return s.inner.QueryPage(ctx, q)
}

// BulkUpsert passes through and drops the written ids from the cache.
func (s *CachingStore) BulkUpsert(ctx context.Context, index string, actions []Action) (BulkResult, error) {
	for _, a := range actions {
		s.cache.Remove(cacheKey{index, a.ID})
	}
	return s.inner.BulkUpsert(ctx, index, actions)
}

// Stats returns cache hits and misses.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.cache.Stats()
}

// Close closes the inner store.
func (s *CachingStore) Close() error {
	return Close(s.inner)
}

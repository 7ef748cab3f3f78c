package store

import (
	"context"
	"time"

	"github.com/hupe1980/graphmat/model"
)

// Observer receives one callback per store call.
type Observer interface {
	OnLookup(index string, requested, found int, d time.Duration, err error)
	OnQuery(index, field string, hits int, d time.Duration, err error)
	OnBulk(index string, actions, failed int, d time.Duration, err error)
}

// NoopObserver ignores every callback.
type NoopObserver struct{}

func (NoopObserver) OnLookup(string, int, int, time.Duration, error)   {}
func (NoopObserver) OnQuery(string, string, int, time.Duration, error) {}
func (NoopObserver) OnBulk(string, int, int, time.Duration, error)     {}

type instrumented struct {
	inner Store
	obs   Observer
}

// Instrumented reports every call on inner to obs. A nil obs returns inner
// unchanged.
func Instrumented(inner Store, obs Observer) Store {
	if obs == nil {
		return inner
	}
	return &instrumented{inner: inner, obs: obs}
}

func (s *instrumented) LookupMany(ctx context.Context, index string, ids []string) (map[string]model.Document, error) {
	start := time.Now()
	docs, err := s.inner.LookupMany(ctx, index, ids)
	s.obs.OnLookup(index, len(ids), len(docs), time.Since(start), err)
	return docs, err
}

func (s *instrumented) QueryPage(ctx context.Context, q PageQuery) (Page, error) {
	start := time.Now()
	page, err := s.inner.QueryPage(ctx, q)
	s.obs.OnQuery(q.Index, q.Field, len(page.Hits), time.Since(start), err)
	return page, err
}

func (s *instrumented) BulkUpsert(ctx context.Context, index string, actions []Action) (BulkResult, error) {
	start := time.Now()
	res, err := s.inner.BulkUpsert(ctx, index, actions)
	failed := len(res.Failures)
	if err != nil {
		failed = len(actions)
	}
	s.obs.OnBulk(index, len(actions), failed, time.Since(start), err)
	return res, err
}

func (s *instrumented) Close() error {
	return Close(s.inner)
}

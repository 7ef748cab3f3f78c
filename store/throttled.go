package store

import (
	"context"

	"github.com/hupe1980/graphmat/internal/resource"
	"github.com/hupe1980/graphmat/model"
)

type throttled struct {
	inner Store
	rc    *resource.Controller
}

// Throttled paces every call on inner through rc's request limiter.
// A nil rc returns inner unchanged.
func Throttled(inner Store, rc *resource.Controller) Store {
	if rc == nil {
		return inner
	}
	return &throttled{inner: inner, rc: rc}
}

func (t *throttled) LookupMany(ctx context.Context, index string, ids []string) (map[string]model.Document, error) {
	if err := t.rc.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.LookupMany(ctx, index, ids)
}

func (t *throttled) QueryPage(ctx context.Context, q PageQuery) (Page, error) {
	if err := t.rc.Wait(ctx); err != nil {
		return Page{}, err
	}
	return t.inner.QueryPage(ctx, q)
}

func (t *throttled) BulkUpsert(ctx context.Context, index string, actions []Action) (BulkResult, error) {
	if err := t.rc.Wait(ctx); err != nil {
		return BulkResult{}, err
	}
	return t.inner.BulkUpsert(ctx, index, actions)
}

func (t *throttled) Close() error {
	return Close(t.inner)
}

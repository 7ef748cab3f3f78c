package join

import (
	"context"
	"fmt"

	"github.com/hupe1980/graphmat/store"
)

const (
	// DefaultPageSize is the number of hits requested per page.
	DefaultPageSize = 10000
	// DefaultSortKey is the stable sort key used for search_after cursors.
	DefaultSortKey = "id"
)

// ErrCursorStalled is returned when a full page carries no cursor, which
// would otherwise make pagination restart from the beginning forever.
var ErrCursorStalled = fmt.Errorf("%w: full page without cursor", store.ErrMalformedResponse)

// PaginateFunc walks every page of q in order and calls fn for each
// non-empty page. Pages are requested strictly sequentially since every
// cursor depends on the previous page. Pagination stops at the first page
// holding fewer than q.Size hits.
func PaginateFunc(ctx context.Context, st store.Store, q store.PageQuery, fn func(store.Page) error) error {
	if q.Size <= 0 {
		q.Size = DefaultPageSize
	}
	if q.SortKey == "" {
		q.SortKey = DefaultSortKey
	}

	for {
		page, err := st.QueryPage(ctx, q)
		if err != nil {
			return err
		}
		if len(page.Hits) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if len(page.Hits) < q.Size {
			return nil
		}
		if len(page.Next) == 0 {
			return fmt.Errorf("%s %s=%s: %w", q.Index, q.Field, q.Value, ErrCursorStalled)
		}
		q.After = page.Next
	}
}

// Paginate returns the concatenation of all pages of q.
func Paginate(ctx context.Context, st store.Store, q store.PageQuery) ([]store.Hit, error) {
	var hits []store.Hit
	err := PaginateFunc(ctx, st, q, func(p store.Page) error {
		hits = append(hits, p.Hits...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

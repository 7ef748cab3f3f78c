package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/graphmat/model"
)

// ErrMalformedResponse is returned when a store answer cannot be decoded or
// violates the contract (for example a full page without a cursor).
var ErrMalformedResponse = errors.New("store: malformed response")

// Cursor is the sort values of the last hit of a page. It is opaque to
// callers and fed back as PageQuery.After.
type Cursor []any

// PageQuery selects one page of documents whose Field equals Value.
type PageQuery struct {
	Index   string
	Field   string
	Value   string
	SortKey string
	After   Cursor
	Size    int
}

// Hit is one matched document.
type Hit struct {
	ID     string
	Source json.RawMessage
	Sort   Cursor
}

// Document converts the hit into a model.Document.
func (h Hit) Document() model.Document {
	return model.Document{ID: h.ID, Source: h.Source}
}

// Page is one page of hits in sort order. Next is the cursor of the last hit
// and nil when the page is empty.
type Page struct {
	Hits []Hit
	Next Cursor
}

// Op is a bulk action type.
type Op uint8

const (
	// OpUpdate merges Doc into an existing document.
	OpUpdate Op = iota
	// OpIndex replaces the document.
	OpIndex
)

func (o Op) String() string {
	switch o {
	case OpUpdate:
		return "update"
	case OpIndex:
		return "index"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Action is one bulk write.
type Action struct {
	Op  Op
	ID  string
	Doc json.RawMessage
	// Upsert creates the document from Doc when an update target is missing.
	Upsert bool
}

// ItemFailure describes one rejected action.
type ItemFailure struct {
	ID     string
	Reason string
	Status int
}

// BulkResult reports the outcome of a BulkUpsert call.
type BulkResult struct {
	Succeeded int
	Failures  []ItemFailure
}

// Store is the document store contract.
type Store interface {
	LookupMany(ctx context.Context, index string, ids []string) (map[string]model.Document, error)
	QueryPage(ctx context.Context, q PageQuery) (Page, error)
	BulkUpsert(ctx context.Context, index string, actions []Action) (BulkResult, error)
}

// Close releases s if it holds resources.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Distinct returns ids without duplicates or empty strings, in first-seen
// order.
func Distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

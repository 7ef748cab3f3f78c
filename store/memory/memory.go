// Package memory is a deterministic in-process store.Store with fault
// injection, used by tests and dry runs.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/graphmat/model"
	"github.com/hupe1980/graphmat/store"
)

// Call describes a store call seen by a FaultFunc.
type Call struct {
	Op    string // "lookup", "query" or "bulk"
	Index string
	Field string
	Value string
	IDs   []string
}

// FaultFunc may fail a call before it touches any data.
type FaultFunc func(ctx context.Context, c Call) error

// Stats counts calls by kind.
type Stats struct {
	Lookups int64
	Queries int64
	Bulks   int64
}

// Option configures a Store.
type Option func(*Store)

// WithFault installs a fault hook.
func WithFault(f FaultFunc) Option {
	return func(s *Store) {
		s.fault = f
	}
}

var _ store.Store = (*Store)(nil)

// Store keeps documents per index in memory. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	indexes  map[string]map[string]json.RawMessage
	failures map[string]map[string]string // index -> id -> reason

	fault FaultFunc

	lookups atomic.Int64
	queries atomic.Int64
	bulks   atomic.Int64
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		indexes:  make(map[string]map[string]json.RawMessage),
		failures: make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores source under id, replacing any existing document.
func (s *Store) Put(index, id string, source json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index(index)[id] = bytes.Clone(source)
}

// PutJSON marshals v and stores it under id.
func (s *Store) PutJSON(index, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.Put(index, id, data)
	return nil
}

// Get returns the stored source of id.
func (s *Store) Get(index, id string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.indexes[index][id]
	return src, ok
}

// Len returns the number of documents in index.
func (s *Store) Len(index string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.indexes[index])
}

// FailItems makes bulk actions on ids in index fail with reason.
func (s *Store) FailItems(index, reason string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.failures[index]
	if !ok {
		m = make(map[string]string)
		s.failures[index] = m
	}
	for _, id := range ids {
		m[id] = reason
	}
}

// Stats returns call counters.
func (s *Store) Stats() Stats {
	return Stats{
		Lookups: s.lookups.Load(),
		Queries: s.queries.Load(),
		Bulks:   s.bulks.Load(),
	}
}

func (s *Store) index(name string) map[string]json.RawMessage {
	idx, ok := s.indexes[name]
	if !ok {
		idx = make(map[string]json.RawMessage)
		s.indexes[name] = idx
	}
	return idx
}

func (s *Store) check(ctx context.Context, c Call) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.fault != nil {
		return s.fault(ctx, c)
	}
	return nil
}

// LookupMany returns the documents of the ids that exist.
func (s *Store) LookupMany(ctx context.Context, index string, ids []string) (map[string]model.Document, error) {
	s.lookups.Add(1)
	if err := s.check(ctx, Call{Op: "lookup", Index: index, IDs: ids}); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.Document, len(ids))
	for _, id := range ids {
		if src, ok := s.indexes[index][id]; ok {
			out[id] = model.Document{ID: id, Source: src}
		}
	}
	return out, nil
}

type sortable struct {
	id  string
	key string
	src json.RawMessage
}

// QueryPage returns documents whose Field equals Value, sorted by SortKey
// (the document id when SortKey is "id" or empty) after the cursor.
func (s *Store) QueryPage(ctx context.Context, q store.PageQuery) (store.Page, error) {
	s.queries.Add(1)
	if err := s.check(ctx, Call{Op: "query", Index: q.Index, Field: q.Field, Value: q.Value}); err != nil {
		return store.Page{}, err
	}
	if q.Size <= 0 {
		return store.Page{}, fmt.Errorf("memory: page size must be positive, got %d", q.Size)
	}

	var after string
	if len(q.After) > 0 {
		a, ok := q.After[0].(string)
		if !ok {
			return store.Page{}, fmt.Errorf("%w: cursor %v", store.ErrMalformedResponse, q.After)
		}
		after = a
	}

	s.mu.RLock()
	var matches []sortable
	for id, src := range s.indexes[q.Index] {
		fields, err := decodeFields(src)
		if err != nil {
			continue
		}
		if fields[q.Field] != q.Value {
			continue
		}
		key := id
		if q.SortKey != "" && q.SortKey != "id" {
			key = fields[q.SortKey]
		} else if v, ok := fields["id"]; ok {
			key = v
		}
		if len(q.After) > 0 && key <= after {
			continue
		}
		matches = append(matches, sortable{id: id, key: key, src: src})
	}
	s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b sortable) int {
		if c := strings.Compare(a.key, b.key); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	if len(matches) > q.Size {
		matches = matches[:q.Size]
	}

	page := store.Page{Hits: make([]store.Hit, len(matches))}
	for i, m := range matches {
		page.Hits[i] = store.Hit{ID: m.id, Source: m.src, Sort: store.Cursor{m.key}}
	}
	if n := len(page.Hits); n > 0 {
		page.Next = page.Hits[n-1].Sort
	}
	return page, nil
}

// BulkUpsert applies actions in order. Updates merge top-level fields into
// the existing document and fail with status 404 when it is missing unless
// Upsert is set.
func (s *Store) BulkUpsert(ctx context.Context, index string, actions []store.Action) (store.BulkResult, error) {
	s.bulks.Add(1)
	ids := make([]string, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	if err := s.check(ctx, Call{Op: "bulk", Index: index, IDs: ids}); err != nil {
		return store.BulkResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.BulkResult
	idx := s.index(index)
	for _, a := range actions {
		if reason, ok := s.failures[index][a.ID]; ok {
			res.Failures = append(res.Failures, store.ItemFailure{ID: a.ID, Reason: reason, Status: 500})
			continue
		}

		existing, exists := idx[a.ID]
		switch {
		case a.Op == store.OpIndex:
			idx[a.ID] = bytes.Clone(a.Doc)
		case !exists && !a.Upsert:
			res.Failures = append(res.Failures, store.ItemFailure{
				ID:     a.ID,
				Reason: "document_missing_exception",
				Status: 404,
			})
			continue
		case !exists:
			idx[a.ID] = bytes.Clone(a.Doc)
		default:
			merged, err := merge(existing, a.Doc)
			if err != nil {
				res.Failures = append(res.Failures, store.ItemFailure{ID: a.ID, Reason: err.Error(), Status: 400})
				continue
			}
			idx[a.ID] = merged
		}
		res.Succeeded++
	}
	return res, nil
}

// decodeFields returns the scalar top-level fields as strings.
func decodeFields(src json.RawMessage) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(src, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			out[k] = str
			continue
		}
		var num json.Number
		if err := json.Unmarshal(v, &num); err == nil {
			out[k] = num.String()
		}
	}
	return out, nil
}

func merge(existing, patch json.RawMessage) (json.RawMessage, error) {
	var base, delta map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil {
		return nil, fmt.Errorf("existing document: %w", err)
	}
	if err := json.Unmarshal(patch, &delta); err != nil {
		return nil, fmt.Errorf("partial document: %w", err)
	}
	if base == nil {
		base = make(map[string]json.RawMessage, len(delta))
	}
	for k, v := range delta {
		base[k] = v
	}
	return json.Marshal(base)
}

// Package ledger records the ids of units that could not be processed.
//
// A Ledger is scoped to one run. Workers append concurrently; at run end the
// set is persisted as a JSON array named after the run id so it can be fed
// back in as the input of a replay run.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/graphmat/blobstore"
)

// Name returns the blob name of the ledger for runID.
func Name(runID string) string {
	return fmt.Sprintf("failed_nodes_%s.json", runID)
}

// Ledger is an append-only set of failed unit ids. It is safe for
// concurrent use. The zero value is ready to use.
type Ledger struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append records ids. Duplicates are ignored; first-seen order is kept.
func (l *Ledger) Append(ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.seen == nil {
		l.seen = make(map[string]struct{}, len(ids))
	}
	for _, id := range ids {
		if _, ok := l.seen[id]; ok {
			continue
		}
		l.seen[id] = struct{}{}
		l.order = append(l.order, id)
	}
}

// Contains reports whether id was recorded.
func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[id]
	return ok
}

// Len returns the number of distinct ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// IDs returns a snapshot of the recorded ids in first-seen order.
func (l *Ledger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.order)
}

// Persist writes the ledger as a JSON array to store under Name(runID) and
// returns the blob name. An empty ledger is written as an empty array;
// callers decide whether a run without failures persists at all.
func (l *Ledger) Persist(ctx context.Context, store blobstore.Store, runID string) (string, error) {
	ids := l.IDs()
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	name := Name(runID)
	if err := store.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("ledger: persist %s: %w", name, err)
	}
	return name, nil
}

// Load reads a persisted ledger.
func Load(ctx context.Context, store blobstore.Store, name string) ([]string, error) {
	data, err := blobstore.ReadAll(ctx, store, name)
	if err != nil {
		return nil, fmt.Errorf("ledger: load %s: %w", name, err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %w", name, err)
	}
	return ids, nil
}

package progress

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// ShardSet is a concurrent set of shard indices.
type ShardSet struct {
	mu sync.RWMutex
	bm *roaring.Bitmap
}

// NewShardSet returns an empty set.
func NewShardSet() *ShardSet {
	return &ShardSet{bm: roaring.New()}
}

// Mark adds index to the set.
func (s *ShardSet) Mark(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bm.Add(uint32(index))
}

// Contains reports whether index is in the set.
func (s *ShardSet) Contains(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bm.Contains(uint32(index))
}

// Count returns the number of indices in the set.
func (s *ShardSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.bm.GetCardinality())
}

// Indices returns the indices in ascending order.
func (s *ShardSet) Indices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]int, 0, s.bm.GetCardinality())
	it := s.bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Missing returns the indices in [0, planned) that are not in the set,
// ascending.
func (s *ShardSet) Missing(planned int) []int {
	if planned <= 0 {
		return nil
	}
	all := roaring.New()
	all.AddRange(0, uint64(planned))

	s.mu.RLock()
	all.AndNot(s.bm)
	s.mu.RUnlock()

	out := make([]int, 0, all.GetCardinality())
	it := all.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

package shard

import (
	"errors"
	"fmt"
)

const (
	// DefaultBatchSize is the number of lines per byte-range shard.
	DefaultBatchSize = 10000
	// DefaultNumBatches is the number of named batches an id list is split into.
	DefaultNumBatches = 5
	// EOF marks a range that runs to the end of the input.
	EOF int64 = -1
)

var (
	// ErrInvalidBatch is returned for a batch index outside [0, numBatches).
	ErrInvalidBatch = errors.New("shard: invalid batch")
	// ErrInvalidBatchSize is returned for a non-positive lines-per-shard value.
	ErrInvalidBatchSize = errors.New("shard: batch size must be positive")
)

// Shard is implemented by every shard descriptor.
type Shard interface {
	// ShardIndex returns the shard's position in the total order.
	ShardIndex() int
}

// Range is a byte range [Start, End) of a line-delimited input.
type Range struct {
	Index int
	Start int64
	End   int64 // EOF means to the end of the input
}

// ShardIndex implements Shard.
func (r Range) ShardIndex() int { return r.Index }

// Len returns the range length given the input size.
func (r Range) Len(size int64) int64 {
	end := r.End
	if end == EOF || end > size {
		end = size
	}
	if end < r.Start {
		return 0
	}
	return end - r.Start
}

func (r Range) String() string {
	if r.End == EOF {
		return fmt.Sprintf("range#%d[%d:EOF]", r.Index, r.Start)
	}
	return fmt.Sprintf("range#%d[%d:%d]", r.Index, r.Start, r.End)
}

// IDChunk is an ordered, contiguous slice of unit ids.
type IDChunk struct {
	Index int
	IDs   []string
}

// ShardIndex implements Shard.
func (c IDChunk) ShardIndex() int { return c.Index }

func (c IDChunk) String() string {
	return fmt.Sprintf("chunk#%d(%d ids)", c.Index, len(c.IDs))
}

// Ranges turns line-boundary offsets into consecutive ranges: the end of
// shard k is the start of shard k+1 and the last shard ends at EOF.
func Ranges(offsets []int64) []Range {
	out := make([]Range, len(offsets))
	for i, start := range offsets {
		end := EOF
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		out[i] = Range{Index: i, Start: start, End: end}
	}
	return out
}

// ChunkIDs splits ids into contiguous chunks of ceil(len(ids)/workers).
// The last chunk may be shorter; empty chunks are never produced.
// The returned chunks share ids' backing array.
func ChunkIDs(ids []string, workers int) []IDChunk {
	if len(ids) == 0 {
		return nil
	}
	workers = max(workers, 1)
	size := (len(ids) + workers - 1) / workers

	out := make([]IDChunk, 0, workers)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, IDChunk{Index: len(out), IDs: ids[start:end:end]})
	}
	return out
}

// BatchBounds returns the half-open index bounds of batch out of numBatches
// over total items. With k, m = total/n, total%n the first m batches hold
// k+1 items and the rest k, so the result depends only on the arguments.
func BatchBounds(batch, total, numBatches int) (start, end int, err error) {
	if numBatches <= 0 || batch < 0 || batch >= numBatches {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrInvalidBatch, batch, numBatches)
	}
	if total < 0 {
		return 0, 0, fmt.Errorf("%w: negative total %d", ErrInvalidBatch, total)
	}
	k, m := total/numBatches, total%numBatches
	start = batch*k + min(batch, m)
	end = start + k
	if batch < m {
		end++
	}
	return start, end, nil
}

// Batch returns the named batch of ids.
func Batch(ids []string, batch, numBatches int) ([]string, error) {
	start, end, err := BatchBounds(batch, len(ids), numBatches)
	if err != nil {
		return nil, err
	}
	return ids[start:end:end], nil
}

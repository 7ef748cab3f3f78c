// Package shard partitions pipeline input into independent, ordered shards.
//
// Two partitioning schemes are supported:
//
//   - Byte ranges over a line-delimited file ([ScanOffsets], [Ranges]).
//     Every shard starts on a line boundary and ends where the next begins;
//     the last shard runs to [EOF].
//   - Contiguous id chunks ([ChunkIDs]) for id-list inputs, plus balanced
//     named batches ([Batch]) for splitting one large id list across
//     separate runs.
//
// Shards are disjoint, their union is the whole input, and the shard index
// defines the total order outputs are stitched in. Planning never mutates
// the input.
//
// # Offset Cache
//
// Scanning a multi-gigabyte input is a full read. [OffsetCache] persists the
// offsets next to the input in a blobstore and reuses them while the input
// size and batch size match:
//
//	cache := shard.NewOffsetCache(store)
//	scan, hit, err := cache.Load(ctx, "edges.jsonl", shard.DefaultBatchSize, false)
//	ranges := shard.Ranges(scan.Offsets)
package shard

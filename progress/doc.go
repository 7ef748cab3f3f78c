// Package progress tracks how far a run has come.
//
// [Counters] holds one monotonically increasing slot per worker. A slot is
// written only by its owner and read by the [Monitor], so no lock is needed.
// [ShardSet] is a compressed bitmap of shard indices used for completion
// bookkeeping.
//
// The monitor prints a single line that is overwritten in place:
//
//	Run 3f9a0c1b2d progress: 1200/5000 nodes processed
package progress

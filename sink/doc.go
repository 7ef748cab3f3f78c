// Package sink persists the output of join workers.
//
// OrderedFileSink writes one temp file per shard and stitches them in shard
// index order once every shard has completed, so the merged output keeps the
// relative order of the input no matter in which order shards finished.
//
// BulkSink streams store actions into size-bounded BulkUpsert batches. It
// gives no ordering guarantee across shards; per-item failures are logged and
// recorded in the run's ledger.
package sink

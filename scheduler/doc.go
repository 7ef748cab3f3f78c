// Package scheduler runs shard workers on a fixed-size pool.
//
// Every pool worker opens its own Worker through a Factory, typically
// holding a private store connection, and keeps it for its lifetime. Shards
// are handed out over a queue; each worker receives a RunContext carrying
// the run id, its exclusive progress slot, the shared failure ledger and a
// logger.
//
// Failed shards are not rescheduled unless WithMaxAttempts is set, in which
// case the shard is re-executed by the same worker. Progress and ledger
// entries of an attempt are staged and only committed by the final attempt,
// so retries neither double count nor leave stale ledger entries.
package scheduler

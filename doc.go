// Package graphmat materializes derived graph artifacts from a node/edge
// dataset held in a document store.
//
// A run partitions its input into shards, joins every shard against the
// store on a pool of workers and persists the result. Two pipelines are
// provided:
//
//   - BuildAdjacency collects, for every node id, the edges where the node is
//     subject (out_edges) or object (in_edges) and writes them to the
//     adjacency index with bulk updates.
//   - EnrichEdges reads a line-delimited edge file, replaces each edge's
//     subject and object ids with the referenced node documents and stitches
//     the per-shard output, in input order, into one file.
//
// # Quick Start
//
//	r, _ := graphmat.New(graphmat.WithWorkers(8), graphmat.WithConcurrency(5))
//	res, err := r.BuildAdjacency(ctx, nodeIDs, func(ctx context.Context) (store.Store, error) {
//	    return elastic.New(elastic.Config{Addresses: []string{"http://localhost:9200"}})
//	})
//
// # Failures
//
// Units that cannot be resolved (timeouts, malformed store answers, rejected
// bulk items) are recorded in a run-scoped ledger, written as
// failed_nodes_<run id>.json, and never abort the run. The ledger is a valid
// id file, so a run can be replayed from it. Shard-fatal errors, such as a
// malformed input line, are returned as a *RunError once all other shards
// have finished.
//
// # Progress
//
// A monitor prints "Run <id> progress: <done>/<total> <unit> processed"
// once per second, overwriting the line in place.
package graphmat

// Package join resolves foreign references of graph records against a
// store.Store.
//
// Two workers are provided:
//
//   - EdgeEnricher replaces the subject and object ids of edges with the
//     referenced node documents. A shard's references are resolved with a
//     single batched lookup.
//   - AdjacencyBuilder collects, for each node id, the edges where the node
//     is subject (out_edges) and object (in_edges) by paginating the edge
//     index, and turns each node into an update action.
//
// Unit failures are recorded in a ledger.Ledger and never abort the shard.
// Shard-fatal conditions, such as a malformed input line, are returned as
// errors.
package join

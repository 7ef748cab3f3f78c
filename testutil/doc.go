// Package testutil provides testing utilities for graphmat.
//
// This package is intended for use in tests and benchmarks only.
// It generates reproducible synthetic graphs and loads them into an
// in-memory store.
//
// # Synthetic Graphs
//
//	rng := testutil.NewRNG(seed)
//	g := rng.Graph(100, 1000)   // 100 nodes, 1000 edges
//	data := g.JSONL()           // edges, one JSON object per line
//	st := memory.New()
//	g.Load(st, "nodes", "edges")
//
// # Expected Adjacency
//
//	out := g.OutEdges(testutil.NodeID(3))
//	in := g.InEdges(testutil.NodeID(3))
package testutil

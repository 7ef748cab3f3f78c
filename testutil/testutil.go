package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/graphmat/model"
	"github.com/hupe1980/graphmat/store/memory"
)

// Predicates used for generated edges.
var Predicates = []string{"related_to", "part_of", "interacts_with", "subclass_of"}

// NodeID returns the id of the i-th generated node.
func NodeID(i int) string {
	return fmt.Sprintf("N%05d", i)
}

// EdgeID returns the id of the i-th generated edge.
func EdgeID(i int) string {
	return fmt.Sprintf("E%06d", i)
}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Graph is a generated node/edge dataset.
type Graph struct {
	Nodes []model.Node
	Edges []model.Edge
}

// Graph generates numNodes nodes and numEdges edges between them. Each
// node carries a "name" attribute and each edge a "predicate" attribute.
func (r *RNG) Graph(numNodes, numEdges int) Graph {
	g := Graph{
		Nodes: make([]model.Node, numNodes),
		Edges: make([]model.Edge, numEdges),
	}
	for i := range g.Nodes {
		g.Nodes[i] = model.Node{
			ID:    NodeID(i),
			Extra: model.Extra{"name": quote(fmt.Sprintf("node %d", i))},
		}
	}
	if numNodes == 0 {
		return Graph{Nodes: g.Nodes}
	}
	for i := range g.Edges {
		g.Edges[i] = model.Edge{
			ID:      EdgeID(i),
			Subject: NodeID(r.Intn(numNodes)),
			Object:  NodeID(r.Intn(numNodes)),
			Extra:   model.Extra{"predicate": quote(Predicates[r.Intn(len(Predicates))])},
		}
	}
	return g
}

// NodeIDs returns the ids of all nodes in order.
func (g Graph) NodeIDs() []string {
	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// EdgeIDs returns the ids of all edges in order.
func (g Graph) EdgeIDs() []string {
	ids := make([]string, len(g.Edges))
	for i, e := range g.Edges {
		ids[i] = e.ID
	}
	return ids
}

// JSONL returns the edges as newline-delimited JSON.
func (g Graph) JSONL() []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range g.Edges {
		_ = enc.Encode(e)
	}
	return buf.Bytes()
}

// Load stores the nodes and edges in st.
func (g Graph) Load(st *memory.Store, nodeIndex, edgeIndex string) error {
	for _, n := range g.Nodes {
		if err := st.PutJSON(nodeIndex, n.ID, n); err != nil {
			return err
		}
	}
	for _, e := range g.Edges {
		if err := st.PutJSON(edgeIndex, e.ID, e); err != nil {
			return err
		}
	}
	return nil
}

// OutEdges returns the edges whose subject is id, sorted by edge id.
func (g Graph) OutEdges(id string) []model.Edge {
	return g.filter(func(e model.Edge) bool { return e.Subject == id })
}

// InEdges returns the edges whose object is id, sorted by edge id.
func (g Graph) InEdges(id string) []model.Edge {
	return g.filter(func(e model.Edge) bool { return e.Object == id })
}

func (g Graph) filter(keep func(model.Edge) bool) []model.Edge {
	out := []model.Edge{}
	for _, e := range g.Edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b model.Edge) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

package model

import (
	"encoding/json"
	"fmt"
)

// AdjacencyDoc lists the edges leaving and entering one node, in the order
// the edge index returned them.
type AdjacencyDoc struct {
	NodeID   string
	OutEdges []Edge
	InEdges  []Edge
}

// Kind implements Record.
func (AdjacencyDoc) Kind() Kind { return KindAdjacency }

// Key implements Record.
func (a AdjacencyDoc) Key() string { return a.NodeID }

// MarshalJSON writes the partial document {"out_edges":[...],"in_edges":[...]}.
// The node id is carried by the store action, not the body.
func (a AdjacencyDoc) MarshalJSON() ([]byte, error) {
	out := a.OutEdges
	if out == nil {
		out = []Edge{}
	}
	in := a.InEdges
	if in == nil {
		in = []Edge{}
	}
	return json.Marshal(struct {
		OutEdges []Edge `json:"out_edges"`
		InEdges  []Edge `json:"in_edges"`
	}{out, in})
}

// UnmarshalJSON reads the partial document form written by MarshalJSON.
func (a *AdjacencyDoc) UnmarshalJSON(data []byte) error {
	var raw struct {
		OutEdges []Edge `json:"out_edges"`
		InEdges  []Edge `json:"in_edges"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("model: adjacency: %w", err)
	}
	a.OutEdges = raw.OutEdges
	a.InEdges = raw.InEdges
	return nil
}

package model

import (
	"encoding/json"
	"fmt"
)

// Node is a graph vertex.
type Node struct {
	ID    string
	Extra Extra
}

// Kind implements Record.
func (Node) Kind() Kind { return KindNode }

// Key implements Record.
func (n Node) Key() string { return n.ID }

// MarshalJSON writes {"id":...} followed by the extra attributes.
func (n Node) MarshalJSON() ([]byte, error) {
	return marshalObject([]field{{"id", mustString(n.ID)}}, n.Extra)
}

// UnmarshalJSON reads a node object, keeping unknown attributes in Extra.
func (n *Node) UnmarshalJSON(data []byte) error {
	typed, extra, err := splitObject(data, "id")
	if err != nil {
		return fmt.Errorf("model: node: %w", err)
	}
	id, err := decodeID(typed["id"])
	if err != nil {
		return err
	}
	n.ID = id
	n.Extra = extra
	return nil
}

// Document is a schema-agnostic stored record: the store id plus the raw
// source body.
type Document struct {
	ID     string
	Source json.RawMessage
}

// Node decodes the document as a Node. A source without an "id" attribute
// takes the document id.
func (d Document) Node() (Node, error) {
	var n Node
	if len(d.Source) > 0 {
		if err := json.Unmarshal(d.Source, &n); err != nil {
			return Node{}, fmt.Errorf("model: document %q: %w", d.ID, err)
		}
	}
	if n.ID == "" {
		n.ID = d.ID
	}
	return n, nil
}

// Edge decodes the document as an Edge. A source without an "id" attribute
// takes the document id.
func (d Document) Edge() (Edge, error) {
	var e Edge
	if len(d.Source) > 0 {
		if err := json.Unmarshal(d.Source, &e); err != nil {
			return Edge{}, fmt.Errorf("model: document %q: %w", d.ID, err)
		}
	}
	if e.ID == "" {
		e.ID = d.ID
	}
	return e, nil
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Kind tags the concrete shape of a Record.
type Kind uint8

const (
	// KindNode is a graph vertex.
	KindNode Kind = iota + 1
	// KindEdge is a raw edge.
	KindEdge
	// KindResolvedEdge is an edge with joined subject/object nodes.
	KindResolvedEdge
	// KindAdjacency is a per-node adjacency document.
	KindAdjacency
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	case KindResolvedEdge:
		return "resolved_edge"
	case KindAdjacency:
		return "adjacency"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is implemented by every shape in the closed record set.
type Record interface {
	// Kind returns the shape tag.
	Kind() Kind
	// Key returns the id the record is stored under.
	Key() string
}

var (
	_ Record = Node{}
	_ Record = Edge{}
	_ Record = ResolvedEdge{}
	_ Record = AdjacencyDoc{}
)

// Extra holds attributes that are not part of a record's typed fields.
// Values are kept as raw JSON and written back unchanged.
type Extra map[string]json.RawMessage

// Clone returns a shallow copy of e.
func (e Extra) Clone() Extra {
	if e == nil {
		return nil
	}
	out := make(Extra, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// field is one typed key/value pair written before the extras.
type field struct {
	key   string
	value json.RawMessage
}

// marshalObject writes typed fields in declaration order followed by the
// extras in sorted key order. Extras shadowed by a typed field are skipped.
func marshalObject(fields []field, extra Extra) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	known := make(map[string]struct{}, len(fields))
	first := true
	write := func(key string, value json.RawMessage) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(value)
		return nil
	}

	for _, f := range fields {
		known[f.key] = struct{}{}
		if err := write(f.key, f.value); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if _, ok := known[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := extra[k]
		if len(v) == 0 {
			v = json.RawMessage("null")
		}
		if err := write(k, v); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// splitObject decodes a JSON object and removes the typed keys, returning
// them separately from the remaining extras.
func splitObject(data []byte, keys ...string) (map[string]json.RawMessage, Extra, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("model: expected JSON object, got %s", truncate(data))
	}
	typed := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			typed[k] = v
			delete(raw, k)
		}
	}
	if len(raw) == 0 {
		raw = nil
	}
	return typed, Extra(raw), nil
}

// decodeID accepts string ids and, leniently, numeric ids.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("model: id must be a string or number, got %s", truncate(raw))
	}
	return n.String(), nil
}

func mustString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func truncate(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

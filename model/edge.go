package model

import (
	"encoding/json"
	"fmt"
)

// Edge is a graph edge. Subject and Object are node ids; an empty value
// means the attribute was absent.
type Edge struct {
	ID      string
	Subject string
	Object  string
	Extra   Extra
}

// Kind implements Record.
func (Edge) Kind() Kind { return KindEdge }

// Key implements Record.
func (e Edge) Key() string { return e.ID }

// MarshalJSON writes id, subject and object (when present) followed by the
// extra attributes.
func (e Edge) MarshalJSON() ([]byte, error) {
	return marshalObject(e.fields(nil, nil), e.Extra)
}

func (e Edge) fields(subject, object json.RawMessage) []field {
	fields := make([]field, 0, 3)
	if e.ID != "" {
		fields = append(fields, field{"id", mustString(e.ID)})
	}
	switch {
	case subject != nil:
		fields = append(fields, field{"subject", subject})
	case e.Subject != "":
		fields = append(fields, field{"subject", mustString(e.Subject)})
	}
	switch {
	case object != nil:
		fields = append(fields, field{"object", object})
	case e.Object != "":
		fields = append(fields, field{"object", mustString(e.Object)})
	}
	return fields
}

// UnmarshalJSON reads an edge object, keeping unknown attributes in Extra.
func (e *Edge) UnmarshalJSON(data []byte) error {
	typed, extra, err := splitObject(data, "id", "subject", "object")
	if err != nil {
		return fmt.Errorf("model: edge: %w", err)
	}
	var out Edge
	if out.ID, err = decodeID(typed["id"]); err != nil {
		return err
	}
	if out.Subject, err = decodeID(typed["subject"]); err != nil {
		return fmt.Errorf("model: edge %q subject: %w", out.ID, err)
	}
	if out.Object, err = decodeID(typed["object"]); err != nil {
		return fmt.Errorf("model: edge %q object: %w", out.ID, err)
	}
	out.Extra = extra
	*e = out
	return nil
}

// References returns the node ids the edge points at, skipping absent ones.
func (e Edge) References() []string {
	refs := make([]string, 0, 2)
	if e.Subject != "" {
		refs = append(refs, e.Subject)
	}
	if e.Object != "" {
		refs = append(refs, e.Object)
	}
	return refs
}

// ResolvedEdge is an Edge whose references were looked up in the node
// index. A nil node means the lookup missed and the raw id is kept.
type ResolvedEdge struct {
	Edge
	SubjectNode *Node
	ObjectNode  *Node
}

// Kind implements Record.
func (ResolvedEdge) Kind() Kind { return KindResolvedEdge }

// Resolve joins e against nodes, a map from node id to node.
func Resolve(e Edge, nodes map[string]Node) ResolvedEdge {
	r := ResolvedEdge{Edge: e}
	if n, ok := nodes[e.Subject]; ok && e.Subject != "" {
		r.SubjectNode = &n
	}
	if n, ok := nodes[e.Object]; ok && e.Object != "" {
		r.ObjectNode = &n
	}
	return r
}

// MarshalJSON writes the edge with each resolved reference replaced by the
// full node object.
func (r ResolvedEdge) MarshalJSON() ([]byte, error) {
	var subject, object json.RawMessage
	if r.SubjectNode != nil {
		b, err := r.SubjectNode.MarshalJSON()
		if err != nil {
			return nil, err
		}
		subject = b
	}
	if r.ObjectNode != nil {
		b, err := r.ObjectNode.MarshalJSON()
		if err != nil {
			return nil, err
		}
		object = b
	}
	return marshalObject(r.fields(subject, object), r.Extra)
}

// Package model defines the record shapes that flow through graphmat.
//
// # Record Types
//
// The pipeline works on a small closed set of shapes:
//
//   - Node: a graph vertex keyed by id
//   - Edge: a triple (subject, object) keyed by id
//   - ResolvedEdge: an Edge whose subject/object ids were joined against the node index
//   - AdjacencyDoc: per-node lists of out edges and in edges
//
// Every shape implements [Record]. Attributes the pipeline does not interpret
// are carried verbatim in an [Extra] side-map, so documents survive a
// decode/encode round trip without loss:
//
//	var e model.Edge
//	_ = json.Unmarshal([]byte(`{"id":"e1","subject":"A","object":"B","predicate":"biolink:related_to"}`), &e)
//	e.Extra["predicate"] // => "biolink:related_to" (raw JSON)
//
// # Documents
//
// Store adapters exchange schema-agnostic [Document] values (id plus raw
// source). Use [Document.Node] and [Document.Edge] to obtain typed records.
package model

// Package elastic implements store.Store on Elasticsearch.
//
// Operations map onto the REST API as follows:
//
//   - LookupMany: POST /<index>/_mget {"ids": [...]}
//   - QueryPage:  POST /<index>/_search with a term query on
//     "<field>.keyword", a sort on the page's sort key and search_after
//   - BulkUpsert: POST /<index>/_bulk with update (partial doc, optional
//     doc_as_upsert) or index actions
//
// Every request runs under the configured per-request timeout; a timeout is
// returned as an error and handled by the caller as a unit failure.
package elastic

// Package store defines the contract graphmat needs from a document store
// and decorators that add caching, throttling and instrumentation.
//
// A [Store] offers three operations:
//
//   - LookupMany: multi-get by id. Absent ids are missing from the result.
//   - QueryPage: one page of a term query sorted by a stable key, with a
//     search-after cursor for the next page.
//   - BulkUpsert: many update/index actions in one request. Per-item
//     failures come back in the result; an error means the whole request
//     failed.
//
// Adapters live in subpackages: memory (tests), elastic (Elasticsearch) and
// dynamo (DynamoDB). Each worker owns one Store for its lifetime, so
// adapters need not share connections across workers.
//
// # Decorators
//
//	st = store.Instrumented(store.Throttled(st, rc), observer)
//	st = store.NewCachingStore(st, 100_000)
package store

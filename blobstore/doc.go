// Package blobstore provides storage abstraction for graphmat's file inputs
// and outputs: the edge JSONL being sharded, offset caches, stitched merge
// files and failure ledgers.
//
// Store is the interface for reading and writing blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem with mmap reads and atomic rename writes
//   - MemoryStore: In-memory, for tests
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
//
// # Range Reads
//
// Shard readers only need their own byte range of the input:
//
//	rc, err := blob.ReadRange(ctx, r.Start, r.End-r.Start)
//
// Local blobs serve the range out of the mapping; object stores issue a
// single ranged GET.
package blobstore

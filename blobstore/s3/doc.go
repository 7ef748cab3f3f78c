// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// Reads are ranged GETs, so a shard worker only downloads its own byte range
// of the input. Streaming writes go through the multipart upload manager.
//
// Usage:
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	client := s3.NewFromConfig(cfg)
//	store := s3store.NewStore(client, "my-bucket", "graphs/")
package s3

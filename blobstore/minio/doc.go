// Package minio provides a blobstore.Store backed by the MinIO client.
//
// It works against MinIO and other S3-compatible services (Ceph, Garage,
// SeaweedFS) without pulling in the AWS SDK.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	store := minioblob.NewStore(client, "graphs", "kg2/")
//
// Use [Dial] to build the client from plain settings.
package minio

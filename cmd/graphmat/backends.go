package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/graphmat"
	"github.com/hupe1980/graphmat/blobstore"
	miniostore "github.com/hupe1980/graphmat/blobstore/minio"
	s3store "github.com/hupe1980/graphmat/blobstore/s3"
	"github.com/hupe1980/graphmat/internal/config"
	"github.com/hupe1980/graphmat/store"
	"github.com/hupe1980/graphmat/store/dynamo"
	"github.com/hupe1980/graphmat/store/elastic"
)

// storeFactory returns a factory opening one document store connection per
// worker.
func (a *app) storeFactory(ctx context.Context) (graphmat.StoreFactory, error) {
	if a.openStore != nil {
		return a.openStore, nil
	}

	c := a.cfg
	switch c.Store {
	case config.StoreDynamoDB:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg)
		return func(context.Context) (store.Store, error) {
			return dynamo.New(client,
				dynamo.WithRequestTimeout(c.RequestTimeout),
				dynamo.WithTablePrefix(c.DynamoPrefix),
			), nil
		}, nil
	default:
		return func(context.Context) (store.Store, error) {
			st, err := elastic.New(elastic.Config{
				Addresses:      []string{c.ESURL},
				Username:       c.ESUsername,
				Password:       c.ESPassword,
				APIKey:         c.ESAPIKey,
				RequestTimeout: c.RequestTimeout,
			})
			if err != nil {
				return nil, err
			}
			return st, nil
		}, nil
	}
}

// blobStore returns the store outputs and ledgers are written to.
func (a *app) blobStore(ctx context.Context) (blobstore.Store, error) {
	if a.blobs != nil {
		return a.blobs, nil
	}

	c := a.cfg
	switch c.OutputStore {
	case config.OutputS3:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return s3store.NewStore(awss3.NewFromConfig(awsCfg), c.OutputBucket, c.OutputPrefix), nil
	case config.OutputMinio:
		client, err := minio.New(c.MinioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(c.MinioAccessKey, c.MinioSecretKey, ""),
			Secure: c.MinioSecure,
			Region: c.AWSRegion,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return miniostore.NewStore(client, c.OutputBucket, c.OutputPrefix), nil
	default:
		root := c.OutputPrefix
		if root == "" {
			root = "."
		}
		return blobstore.NewLocalStore(root), nil
	}
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if a.cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(a.cfg.AWSRegion))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("aws config: %w", err)
	}
	return cfg, nil
}

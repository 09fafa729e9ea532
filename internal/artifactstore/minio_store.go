// Package artifactstore archives generated reports (JSON/SARIF/Markdown)
// to an S3-compatible object store, so a daemon-triggered run's output
// survives the bounded in-memory run history even without PostgresRunStore
// configured. Built on minio.New with static credentials and a
// FPutObject-style upload, generalized from file-path uploads to
// in-memory report bytes.
package artifactstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store uploads report artifacts to a single bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// Config is the subset of config.Config the store needs. Declared locally
// to avoid an import cycle with internal/config.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Open returns nil, nil when cfg.Endpoint is empty: archival is an
// optional degrade-off feature, not a required backend.
func Open(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("artifactstore: connect: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "hydra-reports"
	}
	return &Store{client: client, bucket: bucket}, nil
}

// PutReport uploads data under key with the given content type, creating
// the bucket first if it does not yet exist.
func (s *Store) PutReport(ctx context.Context, key string, data []byte, contentType string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("artifactstore: checking bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("artifactstore: creating bucket: %w", err)
		}
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("artifactstore: upload %s: %w", key, err)
	}
	return nil
}

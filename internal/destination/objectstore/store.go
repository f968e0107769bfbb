package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore abstracts the blob backend so tests can run against the
// local filesystem.
type ObjectStore interface {
	// Ensure verifies the backing bucket or directory exists, creating
	// it when possible.
	Ensure(ctx context.Context) error

	// Put stores data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error
}

// S3Client talks to any S3-compatible endpoint.
type S3Client struct {
	client *minio.Client
	bucket string
}

// NewS3Client builds an S3 client from connection settings.
func NewS3Client(endpoint, accessKey, secretKey, region, bucket string, useSSL bool) (*S3Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}
	return &S3Client{client: client, bucket: bucket}, nil
}

// Ensure creates the bucket if it does not already exist.
func (s *S3Client) Ensure(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads one object.
func (s *S3Client) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// LocalStore is a filesystem-backed store used in tests and for local
// dry runs.
type LocalStore struct {
	Root string
}

// NewLocalStore creates a store rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Root: dir}
}

// Ensure creates the root directory.
func (l *LocalStore) Ensure(_ context.Context) error {
	return os.MkdirAll(l.Root, 0o755)
}

// Put writes the object as a file under the root.
func (l *LocalStore) Put(_ context.Context, key string, data []byte) error {
	path := filepath.Join(l.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	return nil
}

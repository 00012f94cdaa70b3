package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ProviderMinio is the provider name recorded for blobs in S3-compatible storage.
const ProviderMinio = "MinIO"

// MinioConfig holds the connection settings for MinioStore.
type MinioConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// Client is an optional pre-configured client; when set the connection
	// fields are ignored.
	Client *minio.Client
}

// MinioStore stores blobs as objects in a single bucket, keyed by reference.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore creates a MinIO/S3 storage backend.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	client := cfg.Client
	if client == nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("endpoint is required when client is not provided")
		}
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Name implements Backend.
func (m *MinioStore) Name() string { return ProviderMinio }

// EnsureBucket creates the bucket if it doesn't exist.
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// Put uploads content as a new object.
func (m *MinioStore) Put(ctx context.Context, content io.Reader, size int64, _, contentType string) (string, error) {
	ref := uuid.NewString()
	_, err := m.client.PutObject(ctx, m.bucket, ref, content, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object: %w", err)
	}
	return ref, nil
}

// Get opens the object stored under ref. The object is statted first so a
// missing key surfaces here rather than on the first Read.
func (m *MinioStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	if _, err := m.client.StatObject(ctx, m.bucket, ref, minio.StatObjectOptions{}); err != nil {
		return nil, translate(err)
	}
	obj, err := m.client.GetObject(ctx, m.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err)
	}
	return obj, nil
}

// Delete removes the object stored under ref. S3 deletes are idempotent.
func (m *MinioStore) Delete(ctx context.Context, ref string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		if translate(err) == ErrBlobNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete object %s: %w", ref, err)
	}
	return nil
}

func translate(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrBlobNotFound
	}
	return fmt.Errorf("minio: %w", err)
}

// Package storage keeps generated and uploaded files (QR labels, material
// photos) in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured is returned by callers holding a nil Store.
var ErrNotConfigured = errors.New("storage: not configured")

// Store is the file storage port.
type Store interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
	Remove(ctx context.Context, name string) error
	URL(name string) string
}

// Config mirrors the MINIO_* settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

// MinIO stores objects in one bucket.
type MinIO struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// New connects to MinIO and makes sure the bucket exists. A blank endpoint
// returns a nil Store: artifacts are then skipped.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: make bucket %s: %w", cfg.Bucket, err)
		}
	}
	public := cfg.PublicURL
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint + "/" + cfg.Bucket
	}
	return &MinIO{client: client, bucket: cfg.Bucket, publicURL: strings.TrimRight(public, "/")}, nil
}

// Put uploads data under name and returns its public URL.
func (m *MinIO) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: put %s: %w", name, err)
	}
	return m.URL(name), nil
}

// Get downloads the object stored under name.
func (m *MinIO) Get(ctx context.Context, name string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", name, err)
	}
	defer object.Close()
	return io.ReadAll(object)
}

// Remove deletes the object stored under name.
func (m *MinIO) Remove(ctx context.Context, name string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: remove %s: %w", name, err)
	}
	return nil
}

// URL returns the public URL of name.
func (m *MinIO) URL(name string) string {
	return m.publicURL + "/" + strings.TrimLeft(path.Clean("/"+name), "/")
}

// Package evidence stores assessment evidence files in S3-compatible object
// storage. When no endpoint is configured the service is disabled and upload
// attempts fail with ErrNotConfigured.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotConfigured indicates object storage has not been set up.
var ErrNotConfigured = errors.New("evidence storage not configured")

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store. An empty endpoint returns a disabled
// service rather than an error so the API can run without MinIO.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	if endpoint == "" {
		return &Service{}, nil
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return &Service{client: client, bucket: bucket}, nil
}

// Enabled reports whether object storage is configured.
func (s *Service) Enabled() bool {
	return s.client != nil
}

// EnsureBucket creates the evidence bucket when missing.
func (s *Service) EnsureBucket(ctx context.Context) error {
	if s.client == nil {
		return ErrNotConfigured
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Upload stores one evidence object under the framework/control prefix and
// returns the object key.
func (s *Service) Upload(ctx context.Context, frameworkKey, controlID, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	if s.client == nil {
		return "", ErrNotConfigured
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := objectKey(frameworkKey, controlID, filename)
	if _, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

// PresignedURL returns a time-limited download link for an evidence object.
func (s *Service) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.client == nil {
		return "", ErrNotConfigured
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

func objectKey(frameworkKey, controlID, filename string) string {
	name := path.Base(filename)
	if name == "." || name == "/" || name == "" {
		name = "evidence"
	}
	stamp := time.Now().UTC().Format("20060102T150405Z")
	return strings.Join([]string{frameworkKey, controlID, stamp + "_" + name}, "/")
}

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioOptions configures the S3-compatible backend.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Minio stores objects in an S3-compatible service.
type Minio struct {
	client *minio.Client
	region string
}

var _ Store = (*Minio)(nil)

// NewMinio connects to the endpoint with static credentials.
func NewMinio(opts MinioOptions) (*Minio, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store %s: %w", opts.Endpoint, err)
	}
	return &Minio{client: client, region: opts.Region}, nil
}

func (m *Minio) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (m *Minio) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	if err := validateKey(bucket, key); err != nil {
		return err
	}
	if _, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{}); err != nil {
		return m.wrap(err, "put", bucket, key)
	}
	return nil
}

func (m *Minio) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := validateKey(bucket, key); err != nil {
		return nil, err
	}
	// GetObject is lazy; stat first so a missing key fails here, not on Read.
	if _, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, m.wrap(err, "get", bucket, key)
	}
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.wrap(err, "get", bucket, key)
	}
	return obj, nil
}

func (m *Minio) Delete(ctx context.Context, bucket, key string) error {
	if err := validateKey(bucket, key); err != nil {
		return err
	}
	err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err == nil {
		return nil
	}
	wrapped := m.wrap(err, "delete", bucket, key)
	if errors.Is(wrapped, ErrNotFound) {
		return nil
	}
	return wrapped
}

func (m *Minio) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if err := validateKey(bucket, key); err != nil {
		return false, err
	}
	_, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	wrapped := m.wrap(err, "stat", bucket, key)
	if errors.Is(wrapped, ErrNotFound) {
		return false, nil
	}
	return false, wrapped
}

func (m *Minio) Upload(ctx context.Context, bucket, key, path string) error {
	if err := validateKey(bucket, key); err != nil {
		return err
	}
	if _, err := m.client.FPutObject(ctx, bucket, key, path, minio.PutObjectOptions{}); err != nil {
		return m.wrap(err, "upload", bucket, key)
	}
	return nil
}

func (m *Minio) Download(ctx context.Context, bucket, key, path string) error {
	if err := validateKey(bucket, key); err != nil {
		return err
	}
	if err := m.client.FGetObject(ctx, bucket, key, path, minio.GetObjectOptions{}); err != nil {
		return m.wrap(err, "download", bucket, key)
	}
	return nil
}

func (m *Minio) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	if err := validateKey(bucket, key); err != nil {
		return "", err
	}
	u, err := m.client.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return "", m.wrap(err, "presign", bucket, key)
	}
	return u.String(), nil
}

func (m *Minio) wrap(err error, op, bucket, key string) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s/%s: %w", op, bucket, key, ErrNotFound)
	default:
		return fmt.Errorf("%s %s/%s: %w", op, bucket, key, err)
	}
}

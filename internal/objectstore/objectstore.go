// Package objectstore is the hot storage tier: buckets of keyed objects.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gas/internal/config"
	"gas/internal/services"
)

// ErrNotFound is returned when a bucket or key does not exist. It matches
// services.ErrNotFound.
var ErrNotFound = fmt.Errorf("object %w", services.ErrNotFound)

// Store reads and writes objects.
type Store interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// Upload stores the local file at path.
	Upload(ctx context.Context, bucket, key, path string) error
	// Download writes the object to the local file at path.
	Download(ctx context.Context, bucket, key, path string) error
	// PresignGet returns a time-limited URL for reading the object.
	PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// Open builds the backend selected by object_store.backend and makes sure the
// configured hot buckets exist.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		store Store
		err   error
	)
	oc := cfg.ObjectStore
	switch strings.ToLower(strings.TrimSpace(oc.Backend)) {
	case config.ObjectStoreFilesystem, "":
		store, err = NewFilesystem(oc.RootDir)
	case config.ObjectStoreMinio:
		store, err = NewMinio(MinioOptions{
			Endpoint:  oc.Endpoint,
			AccessKey: oc.AccessKey,
			SecretKey: oc.SecretKey,
			Region:    oc.Region,
			UseSSL:    oc.UseSSL,
		})
	default:
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "open", "unsupported backend "+oc.Backend, nil)
	}
	if err != nil {
		return nil, err
	}
	for _, bucket := range []string{oc.InputsBucket, oc.ResultsBucket, cfg.Vault.Bucket} {
		if err := store.EnsureBucket(ctx, bucket); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// ReadAll fetches an object fully into memory.
func ReadAll(ctx context.Context, store Store, bucket, key string) ([]byte, error) {
	r, err := store.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func validateKey(bucket, key string) error {
	if strings.TrimSpace(bucket) == "" {
		return services.Wrap(services.ErrValidation, "objectstore", "key", "bucket is required", nil)
	}
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") {
		return services.Wrap(services.ErrValidation, "objectstore", "key", fmt.Sprintf("invalid key %q", key), nil)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || segment == "." || segment == "" {
			return services.Wrap(services.ErrValidation, "objectstore", "key", fmt.Sprintf("invalid key %q", key), nil)
		}
	}
	return nil
}

package testsupport

import (
	"context"
	"strings"
	"testing"

	"gas/internal/config"
	"gas/internal/objectstore"
	"gas/internal/vault"
)

// MustOpenObjects opens the filesystem object store configured by cfg with
// every configured bucket created.
func MustOpenObjects(t testing.TB, cfg *config.Config) objectstore.Store {
	t.Helper()

	store, err := objectstore.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("objectstore.Open: %v", err)
	}
	return store
}

// MustOpenVault opens the local vault configured by cfg on objects.
func MustOpenVault(t testing.TB, cfg *config.Config, objects objectstore.Store) *vault.Local {
	t.Helper()

	v, err := vault.OpenLocal(context.Background(), objects, vault.OptionsFromConfig(cfg))
	if err != nil {
		t.Fatalf("vault.OpenLocal: %v", err)
	}
	t.Cleanup(func() {
		_ = v.Close()
	})
	return v
}

// MustPutObject writes content to bucket/key.
func MustPutObject(t testing.TB, store objectstore.Store, bucket, key, content string) {
	t.Helper()

	if err := store.Put(context.Background(), bucket, key, strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

// ObjectExists reports whether bucket/key exists or fails the test.
func ObjectExists(t testing.TB, store objectstore.Store, bucket, key string) bool {
	t.Helper()

	exists, err := store.Exists(context.Background(), bucket, key)
	if err != nil {
		t.Fatalf("stat %s/%s: %v", bucket, key, err)
	}
	return exists
}

// MustReadObject returns the content at bucket/key.
func MustReadObject(t testing.TB, store objectstore.Store, bucket, key string) string {
	t.Helper()

	data, err := objectstore.ReadAll(context.Background(), store, bucket, key)
	if err != nil {
		t.Fatalf("read %s/%s: %v", bucket, key, err)
	}
	return string(data)
}

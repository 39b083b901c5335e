package objectstore_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gas/internal/objectstore"
	"gas/internal/services"
	"gas/internal/testsupport"
)

func newFilesystem(t *testing.T) *objectstore.Filesystem {
	t.Helper()
	store, err := objectstore.NewFilesystem(filepath.Join(t.TempDir(), "objects"))
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	if err := store.EnsureBucket(context.Background(), "results"); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	return store
}

func TestFilesystemPutGetDelete(t *testing.T) {
	store := newFilesystem(t)
	ctx := context.Background()
	key := "gas/U1/J1~sample.vcf.annot"

	if err := store.Put(ctx, "results", key, strings.NewReader("annotated"), 9); err != nil {
		t.Fatalf("Put: %v", err)
	}
	exists, err := store.Exists(ctx, "results", key)
	if err != nil || !exists {
		t.Fatalf("Exists: %v %v", exists, err)
	}
	data, err := objectstore.ReadAll(ctx, store, "results", key)
	if err != nil || string(data) != "annotated" {
		t.Fatalf("ReadAll: %q %v", data, err)
	}

	if err := store.Delete(ctx, "results", key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "results", key); err != nil {
		t.Fatalf("deleting a missing object should succeed: %v", err)
	}
	if exists, _ := store.Exists(ctx, "results", key); exists {
		t.Fatal("object still exists after delete")
	}
	_, err = store.Get(ctx, "results", key)
	if !errors.Is(err, objectstore.ErrNotFound) || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFilesystemUploadDownload(t *testing.T) {
	store := newFilesystem(t)
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "in.vcf")
	testsupport.WriteFile(t, src, testsupport.SampleVCF)

	if err := store.Upload(ctx, "results", "gas/U1/J1~in.vcf", src); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	dst := filepath.Join(dir, "nested", "out.vcf")
	if err := store.Download(ctx, "results", "gas/U1/J1~in.vcf", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got := testsupport.ReadFile(t, dst); got != testsupport.SampleVCF {
		t.Fatalf("downloaded content mismatch: %q", got)
	}
	url, err := store.PresignGet(ctx, "results", "gas/U1/J1~in.vcf", 0)
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("PresignGet: %q %v", url, err)
	}
}

func TestFilesystemRejectsUnsafeKeys(t *testing.T) {
	store := newFilesystem(t)
	ctx := context.Background()
	for _, key := range []string{"", "/abs", "a/../../etc/passwd", "a//b"} {
		err := store.Put(ctx, "results", key, bytes.NewReader(nil), 0)
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("key %q: expected validation error, got %v", key, err)
		}
	}
	if err := store.Put(ctx, "missing-bucket", "k", bytes.NewReader(nil), 0); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("expected missing bucket to be not found, got %v", err)
	}
}

func TestOpenCreatesConfiguredBuckets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := objectstore.Open(context.Background(), cfg); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, bucket := range []string{cfg.ObjectStore.InputsBucket, cfg.ObjectStore.ResultsBucket, cfg.Vault.Bucket} {
		if info, err := os.Stat(filepath.Join(cfg.ObjectStore.RootDir, bucket)); err != nil || !info.IsDir() {
			t.Fatalf("bucket %s not created: %v", bucket, err)
		}
	}
}

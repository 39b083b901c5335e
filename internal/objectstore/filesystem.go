package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Filesystem stores each bucket as a directory under a root. Writes go to a
// temporary file that is renamed into place, so readers never observe a
// partial object.
type Filesystem struct {
	root string
}

var _ Store = (*Filesystem)(nil)

// NewFilesystem returns a store rooted at dir.
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		return nil, errors.New("filesystem object store requires a root directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create object root: %w", err)
	}
	return &Filesystem{root: dir}, nil
}

func (f *Filesystem) path(bucket, key string) (string, error) {
	if err := validateKey(bucket, key); err != nil {
		return "", err
	}
	return filepath.Join(f.root, bucket, filepath.FromSlash(key)), nil
}

func (f *Filesystem) EnsureBucket(_ context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(f.root, bucket), 0o755); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (f *Filesystem) Put(ctx context.Context, bucket, key string, r io.Reader, _ int64) error {
	target, err := f.path(bucket, key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(f.root, bucket)); err != nil {
		return fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s/%s: %w", bucket, key, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (f *Filesystem) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	target, err := f.path(bucket, key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", bucket, key, err)
	}
	return file, nil
}

func (f *Filesystem) Delete(_ context.Context, bucket, key string) error {
	target, err := f.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (f *Filesystem) Exists(_ context.Context, bucket, key string) (bool, error) {
	target, err := f.path(bucket, key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (f *Filesystem) Upload(ctx context.Context, bucket, key, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()
	return f.Put(ctx, bucket, key, file, -1)
}

func (f *Filesystem) Download(ctx context.Context, bucket, key, path string) error {
	r, err := f.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer r.Close()
	return writeFile(path, r)
}

// PresignGet returns a file:// URL; the filesystem backend has no access control.
func (f *Filesystem) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	target, err := f.path(bucket, key)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create download target: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("write download target: %w", err)
	}
	return out.Close()
}

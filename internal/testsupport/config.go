package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"gas/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every database and the filesystem object store live under the temp root,
// broker long-polls are short, and the archive grace window is zero.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Store.Path = filepath.Join(base, "data", "gas.db")
	cfgVal.Broker.SQLitePath = filepath.Join(base, "data", "broker.db")
	cfgVal.Broker.WaitTimeSeconds = 0
	cfgVal.Vault.CatalogPath = filepath.Join(base, "data", "vault.db")
	cfgVal.Vault.ExpeditedSeconds = 0
	cfgVal.Vault.StandardSeconds = 0
	cfgVal.Accounts.SQLitePath = filepath.Join(base, "data", "accounts.db")
	cfgVal.ObjectStore.RootDir = filepath.Join(base, "objects")
	cfgVal.Processing.MinFreeSpaceMB = 0
	cfgVal.Archive.GraceSeconds = 0
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithArchiveGrace overrides the free-tier grace window.
func WithArchiveGrace(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Archive.GraceSeconds = seconds
	}
}

// WithExpeditedCapacity overrides the vault's in-flight expedited limit.
func WithExpeditedCapacity(capacity int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Vault.ExpeditedCapacity = capacity
	}
}

// WithStandardCapacity overrides the vault's in-flight standard limit.
func WithStandardCapacity(capacity int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Vault.StandardCapacity = capacity
	}
}

// WithStubbedBinary writes an executable shell script named name and points
// processing.annotator_binary at it. The script receives the input path as $1.
func WithStubbedBinary(name, script string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", name, err)
		}
		b.cfg.Processing.AnnotatorBinary = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}

package preflight

import (
	"context"

	"gas/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every local readiness check for the given config.
func RunAll(_ context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir),
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckFreeSpace("Scratch free space", cfg.Paths.ScratchDir, cfg.Processing.MinFreeSpaceMB),
	}
	if cfg.ObjectStore.Backend == config.ObjectStoreFilesystem {
		results = append(results, CheckDirectoryAccess("Object store root", cfg.ObjectStore.RootDir))
	}
	results = append(results, CheckBinary("Annotator", cfg.Processing.AnnotatorBinary))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

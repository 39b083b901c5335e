package annotation

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"gas/internal/services"
)

// Runner executes the annotation workload for a local input file.
type Runner interface {
	Run(inputPath string) (Outputs, error)
}

// ExecRunner runs the annotator binary as a subprocess. The subprocess is
// deliberately started without a context: once launched it runs to
// completion even if the worker is shutting down.
type ExecRunner struct {
	Binary string
}

// Run executes "<binary> <inputPath>" and verifies both artifacts exist.
func (r ExecRunner) Run(inputPath string) (Outputs, error) {
	binary := strings.TrimSpace(r.Binary)
	if binary == "" {
		return Outputs{}, services.Wrap(services.ErrConfiguration, "annotation", "run", "annotator binary not configured", nil)
	}
	var stderr bytes.Buffer
	cmd := exec.Command(binary, inputPath) //nolint:gosec // binary comes from operator config
	cmd.Stderr = &stderr
	started := time.Now()
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[len(detail)-512:]
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Outputs{}, services.Wrap(services.ErrExternalTool, "annotation", "run",
				fmt.Sprintf("%s exited with %d after %s: %s", binary, exitErr.ExitCode(), time.Since(started).Round(time.Millisecond), detail), err)
		}
		return Outputs{}, services.Wrap(services.ErrExternalTool, "annotation", "run", "start "+binary, err)
	}

	outputs := OutputsFor(inputPath)
	for _, path := range []string{outputs.ResultPath, outputs.LogPath} {
		if _, err := os.Stat(path); err != nil {
			return Outputs{}, services.Wrap(services.ErrExternalTool, "annotation", "run", "missing artifact "+path, err)
		}
	}
	return outputs, nil
}

// InProcessRunner runs Annotate directly, for single-binary deployments.
type InProcessRunner struct{}

// Run annotates inputPath in the calling goroutine.
func (InProcessRunner) Run(inputPath string) (Outputs, error) {
	if _, err := Annotate(inputPath); err != nil {
		return Outputs{}, err
	}
	return OutputsFor(inputPath), nil
}

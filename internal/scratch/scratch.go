package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"gas/internal/preflight"
	"gas/internal/services"
)

const lockFileName = ".lock"

// ErrBusy is returned by Acquire when another local worker holds the job lock.
var ErrBusy = errors.New("scratch workspace is locked by another worker")

// ErrInsufficientSpace is returned by Preflight when the volume is too full.
// It is transient: another worker, or this one later, may have room.
var ErrInsufficientSpace = fmt.Errorf("%w: insufficient scratch space", services.ErrTransient)

// Manager hands out job workspaces under a root directory.
type Manager struct {
	root       string
	minFreeMB  int
	staleAfter time.Duration
}

// NewManager returns a manager rooted at dir.
func NewManager(dir string, minFreeMB int) *Manager {
	return &Manager{root: dir, minFreeMB: minFreeMB, staleAfter: 24 * time.Hour}
}

// Root returns the scratch root directory.
func (m *Manager) Root() string {
	return m.root
}

// Preflight ensures the root exists and has the configured free space.
func (m *Manager) Preflight() error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "scratch", "preflight", "create scratch root", err)
	}
	result := preflight.CheckFreeSpace("scratch", m.root, m.minFreeMB)
	if !result.Passed {
		return fmt.Errorf("%w: %s", ErrInsufficientSpace, result.Detail)
	}
	return nil
}

// Workspace is a locked job directory.
type Workspace struct {
	Dir  string
	lock *flock.Flock
}

// Acquire creates and locks the workspace for a job. It returns ErrBusy when
// the lock is held elsewhere on this host.
func (m *Manager) Acquire(userID, jobID string) (*Workspace, error) {
	dir, err := m.dirFor(userID, jobID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBusy, dir)
	}
	return &Workspace{Dir: dir, lock: lock}, nil
}

// Path returns the location of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, filepath.Base(name))
}

// Release unlocks the workspace and keeps its contents.
func (w *Workspace) Release() error {
	if w == nil || w.lock == nil {
		return nil
	}
	return w.lock.Unlock()
}

// Remove deletes the workspace contents and releases the lock.
func (w *Workspace) Remove() error {
	if w == nil {
		return nil
	}
	removeErr := os.RemoveAll(w.Dir)
	unlockErr := w.Release()
	return errors.Join(removeErr, unlockErr)
}

// CleanupStale removes unlocked job workspaces that have not been modified
// for longer than the stale window. It returns the number removed.
func (m *Manager) CleanupStale(now time.Time) (int, error) {
	users, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read scratch root: %w", err)
	}
	removed := 0
	var errs []error
	for _, user := range users {
		if !user.IsDir() {
			continue
		}
		userDir := filepath.Join(m.root, user.Name())
		entries, err := os.ReadDir(userDir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || now.Sub(info.ModTime()) < m.staleAfter {
				continue
			}
			dir := filepath.Join(userDir, entry.Name())
			lock := flock.New(filepath.Join(dir, lockFileName))
			ok, err := lock.TryLock()
			if err != nil || !ok {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				errs = append(errs, err)
			} else {
				removed++
			}
			_ = lock.Unlock()
		}
		_ = os.Remove(userDir) // only succeeds when empty
	}
	return removed, errors.Join(errs...)
}

// SetStaleAfter overrides the age after which CleanupStale removes a workspace.
func (m *Manager) SetStaleAfter(d time.Duration) {
	if d > 0 {
		m.staleAfter = d
	}
}

func (m *Manager) dirFor(userID, jobID string) (string, error) {
	for _, part := range []string{userID, jobID} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", services.Wrap(services.ErrValidation, "scratch", "acquire", fmt.Sprintf("invalid path segment %q", part), nil)
		}
	}
	return filepath.Join(m.root, userID, jobID), nil
}

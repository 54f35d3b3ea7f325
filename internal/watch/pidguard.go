package watch

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gofrs/flock"
)

// PIDGuard enforces the single-watch-daemon-per-workspace rule via an
// exclusively-locked PID file. Grounded on
// internal/daemon/registry.go's gofrs/flock usage, narrowed to a single
// advisory lock rather than a full registry.
type PIDGuard struct {
	path string
	lock *flock.Flock
}

// ErrAlreadyRunning is returned by Acquire when another process already
// holds the lock.
var ErrAlreadyRunning = fmt.Errorf("a watch daemon is already running for this workspace")

// NewPIDGuard constructs a guard over the PID file at path.
func NewPIDGuard(path string) *PIDGuard {
	return &PIDGuard{path: path, lock: flock.New(path)}
}

// Acquire takes the exclusive lock and writes the current PID, failing
// fast with ErrAlreadyRunning if another process holds it.
func (g *PIDGuard) Acquire() error {
	locked, err := g.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire pid lock %q: %w", g.path, err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	if err := os.WriteFile(g.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = g.lock.Unlock()
		return fmt.Errorf("write pid file %q: %w", g.path, err)
	}
	return nil
}

// Release unlocks and removes the PID file.
func (g *PIDGuard) Release() error {
	if err := g.lock.Unlock(); err != nil {
		return err
	}
	return os.Remove(g.path)
}

// Package lock guarantees only one orchestrator process touches the robots
// at a time, via a non-blocking exclusive file lock (spec.md §6 exit code 1,
// "lock-held, another instance running").
package lock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Handle is a held exclusive lock. Release is idempotent.
type Handle struct {
	flock *flock.Flock
}

// ErrHeld is returned by Acquire when another process already holds path.
var ErrHeld = fmt.Errorf("lock: already held by another process")

// Acquire attempts a non-blocking exclusive lock on path, creating it if it
// does not exist. Returns ErrHeld if another process holds it.
func Acquire(path string) (*Handle, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}
	if !locked {
		return nil, ErrHeld
	}
	return &Handle{flock: fl}, nil
}

// Release unlocks the file. Safe to call more than once.
func (h *Handle) Release() error {
	if h == nil || h.flock == nil {
		return nil
	}
	return h.flock.Unlock()
}

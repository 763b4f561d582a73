// Package ipclock provides a named lock shared by every process on the host
// that opens the same lock file.
//
// A Lock combines an in-process mutex with an advisory file lock. Ownership is
// carried in the context, so code running under Do can call Do again with the
// context it was given without deadlocking.
package ipclock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/rs/zerolog/log"
)

// DefaultRetryDelay is how long a blocked caller sleeps before trying again.
const DefaultRetryDelay = 50 * time.Millisecond

type heldKey struct{ lock *Lock }

// Lock is a re-entrant, cross-process lock identified by a file path.
type Lock struct {
	path       string
	retryDelay time.Duration
	mu         sync.Mutex
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Lock{}
)

// Named returns the process-wide lock for path, creating it on first use.
// The lock file is created lazily and never removed.
func Named(path string) *Lock {
	path = filepath.Clean(path)

	registryMu.Lock()
	defer registryMu.Unlock()

	if l, ok := registry[path]; ok {
		return l
	}

	l := &Lock{path: path, retryDelay: DefaultRetryDelay}
	registry[path] = l
	return l
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Held returns true if ctx was issued by Do on this lock.
func (l *Lock) Held(ctx context.Context) bool {
	held, _ := ctx.Value(heldKey{lock: l}).(bool)
	return held
}

// Do runs fn while holding the lock. If ctx already holds it, fn runs
// immediately. Waiting for another holder honours ctx cancellation.
func (l *Lock) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.Held(ctx) {
		return fn(ctx)
	}

	if err := l.lockLocal(ctx); err != nil {
		return err
	}
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	return fslock.WithBlocking(l.path, l.blocker(ctx), func() error {
		return fn(context.WithValue(ctx, heldKey{lock: l}, true))
	})
}

// lockLocal takes the in-process mutex, polling so a cancelled ctx can give up.
func (l *Lock) lockLocal(ctx context.Context) error {
	for !l.mu.TryLock() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
	return nil
}

func (l *Lock) blocker(ctx context.Context) fslock.Blocker {
	return func() error {
		log.Debug().Str("path", l.path).Dur("delay", l.retryDelay).Msg("lock is held by another process, waiting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
			return nil
		}
	}
}

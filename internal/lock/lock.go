// Package lock provides the single-writer serialization needed around the
// cache and threat-model store: a file lock or per-repo mutex is the
// expected resolution. The default is a local advisory lock file per
// repo; when HYDRA_ETCD_ENDPOINTS is set an etcd-backed distributed lock
// (go.etcd.io/etcd/client/v3) is used instead so multiple hosts scanning
// the same repository still serialize correctly, matching the
// deployability bar the rest of the domain stack already assumes (Redis
// cache, Postgres run store).
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrHeld is returned by TryLock when another process already holds the
// lock.
var ErrHeld = errors.New("lock: already held")

// Locker is the per-repo mutual-exclusion contract that the CLI's scan
// commands and the daemon hold around a whole scan, including its cache
// flush and threat-model persistence.
type Locker interface {
	// Lock blocks (subject to ctx) until the lock is acquired.
	Lock(ctx context.Context) error
	// Unlock releases a held lock. Unlock on a lock not held is a no-op.
	Unlock() error
}

// FileLocker is the default backend: an O_EXCL-created lock file per repo.
// Grounded on the append-only-store idiom used throughout the core
// (threatmodel/cache's write-tempfile-then-rename): here the filesystem's
// atomic create-if-absent semantics are the mutual-exclusion primitive
// instead of a rename, since there is no OS-portable flock in the standard
// library alone.
type FileLocker struct {
	path       string
	pollEvery  time.Duration
	held       bool
}

// NewFileLocker returns a locker for repoID backed by the file
// hydraDir/locks/<repoID>.lock.
func NewFileLocker(hydraDir, repoID string) *FileLocker {
	return &FileLocker{
		path:      filepath.Join(hydraDir, "locks", repoID+".lock"),
		pollEvery: 50 * time.Millisecond,
	}
}

func (l *FileLocker) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollEvery):
		}
	}
}

func (l *FileLocker) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrHeld
		}
		return err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	l.held = true
	return nil
}

func (l *FileLocker) Unlock() error {
	if !l.held {
		return nil
	}
	l.held = false
	err := os.Remove(l.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

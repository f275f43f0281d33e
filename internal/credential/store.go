package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// PersistenceError reports a credential file that could not be read or written.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("credential %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store persists one credential across runs.
type Store[T any] interface {
	// Load returns ok=false when nothing is stored yet.
	Load() (value T, ok bool, err error)
	Save(value T) error
}

// Locker is implemented by stores shared between processes. The cache
// holds the lock while refreshing so two processes never refresh at once.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

const lockRetryDelay = 200 * time.Millisecond

// FileStore keeps a credential as a JSON file readable only by its owner.
type FileStore[T any] struct {
	path string
	lock *flock.Flock
}

// NewFileStore returns a store backed by path. A sibling "<path>.lock"
// file serializes refreshes between processes.
func NewFileStore[T any](path string) *FileStore[T] {
	return &FileStore[T]{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the credential file location.
func (s *FileStore[T]) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore[T]) Load() (T, bool, error) {
	var value T
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return value, false, nil
	}
	if err != nil {
		return value, false, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}
	if strings.TrimSpace(string(data)) == "" {
		return value, false, &PersistenceError{Op: "decode", Path: s.path, Err: errors.New("empty file")}
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, &PersistenceError{Op: "decode", Path: s.path, Err: err}
	}
	return value, true, nil
}

// Save implements Store. The file is replaced atomically so a crash never
// leaves a torn record behind.
func (s *FileStore[T]) Save(value T) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, append(data, '\n'), 0o600); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// Lock implements Locker.
func (s *FileStore[T]) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, &PersistenceError{Op: "lock", Path: s.path, Err: err}
	}
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, &PersistenceError{Op: "lock", Path: s.path, Err: err}
	}
	if !locked {
		return nil, &PersistenceError{Op: "lock", Path: s.path, Err: errors.New("lock not acquired")}
	}
	return func() { _ = s.lock.Unlock() }, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	path = filepath.Clean(strings.TrimSpace(path))
	if path == "" || path == "." {
		return fmt.Errorf("invalid path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := f.Name()

	_, writeErr := f.Write(data)
	if writeErr == nil {
		writeErr = f.Chmod(perm)
	}
	if writeErr == nil {
		writeErr = f.Sync()
	}
	closeErr := f.Close()
	if writeErr != nil {
		_ = os.Remove(tmpPath)
		return writeErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return closeErr
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

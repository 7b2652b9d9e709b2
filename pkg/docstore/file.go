package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// FileStore keeps one JSON envelope file per document in a single directory.
// The envelope carries the version counter alongside the body:
//
//	{"version": 3, "doc": {...}}
//
// Replacement is atomic (write-temp-file, rename) so readers never observe a
// partial write. The compare-and-swap critical section is guarded by a lock
// file created with O_CREATE|O_EXCL, which is atomic across processes sharing
// the directory.
type FileStore struct {
	dir string
}

type fileEnvelope struct {
	Version int64           `json:"version"`
	Doc     json.RawMessage `json:"doc"`
}

const (
	lockSuffix      = ".lock"
	lockAcquireWait = 2 * time.Second
	lockPollDelay   = 5 * time.Millisecond
)

// NewFileStore creates a file-backed store rooted at dir, creating the
// directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// Get reads and decodes the document envelope.
func (f *FileStore) Get(ctx context.Context, id string) (Document, error) {
	raw, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Document{ID: id}, ErrNotFound
		}
		return Document{ID: id}, fmt.Errorf("failed to read document file: %w", err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version < 1 {
		return Document{ID: id}, ErrCorrupt
	}

	return Document{ID: id, Version: env.Version, Data: env.Doc}, nil
}

// CompareAndSwap conditionally replaces the document file. The read-compare
// and the rename happen under the document's lock file so two processes
// cannot both succeed against the same expected version.
func (f *FileStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, data []byte) (int64, error) {
	unlock, err := f.acquireLock(ctx, id)
	if err != nil {
		return 0, err
	}
	defer unlock()

	current, err := f.Get(ctx, id)
	currentVersion := int64(0)
	switch {
	case err == nil:
		currentVersion = current.Version
	case IsNotFound(err):
		// First write.
	case errors.Is(err, ErrCorrupt):
		// Corrupt file counts as absent so a create-mode CAS can replace it.
	default:
		return 0, err
	}

	if currentVersion != expectedVersion {
		return 0, ErrVersionMismatch
	}

	env := fileEnvelope{Version: currentVersion + 1, Doc: data}
	encoded, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("failed to encode document envelope: %w", err)
	}

	if err := renameio.WriteFile(f.path(id), encoded, 0o644); err != nil {
		return 0, fmt.Errorf("failed to replace document file: %w", err)
	}

	return env.Version, nil
}

// List returns the IDs of all documents in the directory.
func (f *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list document directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Delete removes the document file. Missing files are ignored.
func (f *FileStore) Delete(ctx context.Context, id string) error {
	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete document file: %w", err)
	}
	return nil
}

// Close is a no-op for the file store.
func (f *FileStore) Close() error {
	return nil
}

// acquireLock takes the per-document lock file, polling until it is free or
// the wait budget runs out. A stale lock older than the wait budget is broken:
// the writer that held it is assumed dead mid-swap, and the prior document
// state is still intact thanks to the atomic rename.
func (f *FileStore) acquireLock(ctx context.Context, id string) (func(), error) {
	lockPath := f.path(id) + lockSuffix
	deadline := time.Now().Add(lockAcquireWait)

	for {
		fd, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fd.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > lockAcquireWait {
			os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock on document %s", id)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollDelay):
		}
	}
}

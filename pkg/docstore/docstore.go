// Package docstore defines the shared-document storage port used by all
// rookery coordination state. A document is an opaque JSON body plus a
// monotonically increasing version counter; every mutation goes through a
// compare-and-swap so concurrent writers never silently overwrite each other.
//
// Three implementations are provided: MemStore (in-process, for tests and
// embedding), FileStore (one JSON file per document, atomic rename), and
// RedisStore (one hash per document, WATCH/MULTI optimistic transaction).
// Any storage medium that can satisfy Get and CompareAndSwap can back the
// coordination layer.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Document is a versioned snapshot of one stored document.
// Version starts at 1 on first write and increments by 1 on every successful
// CompareAndSwap. Data is the raw JSON body.
type Document struct {
	ID      string
	Version int64
	Data    []byte
}

// Store is the document-store port. All rookery shared state (sessions, the
// discovery index) lives behind this interface.
type Store interface {
	// Get returns the current document and its version.
	// Returns ErrNotFound if the document does not exist, or ErrCorrupt if it
	// exists but cannot be decoded (the returned Document still carries the ID).
	Get(ctx context.Context, id string) (Document, error)

	// CompareAndSwap replaces the document body only if the stored version
	// still equals expectedVersion. An expectedVersion of 0 means "create
	// only": the swap fails with ErrVersionMismatch if the document already
	// exists. Returns the new version on success.
	//
	// A corrupt existing document is treated as absent: a CAS with
	// expectedVersion 0 replaces it. This is what makes corrupt-state
	// recovery possible without manual intervention.
	CompareAndSwap(ctx context.Context, id string, expectedVersion int64, data []byte) (int64, error)

	// List returns the IDs of all documents in the store.
	List(ctx context.Context) ([]string, error)

	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store. Implements io.Closer.
	Close() error
}

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrVersionMismatch indicates a CompareAndSwap lost a race: the stored
	// version no longer matches the version the writer read.
	ErrVersionMismatch = errors.New("docstore: version mismatch")

	// ErrCorrupt indicates a document exists but could not be decoded.
	ErrCorrupt = errors.New("docstore: corrupt document")
)

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a lost CAS race that was not
// resolved within the retry budget.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionMismatch)
}

const (
	// maxUpdateAttempts bounds the CAS retry loop. Contention on a single
	// session document is low (a handful of agents on a multi-hour cadence),
	// so exhausting this budget indicates something is badly wrong.
	maxUpdateAttempts = 16

	// retryBaseDelay is the backoff unit between CAS attempts.
	retryBaseDelay = 5 * time.Millisecond
)

// UpdateFunc computes the new body of a document from its current body.
// data is nil and exists is false when the document is missing (or corrupt and
// being recovered). Returning an error aborts the update without writing.
type UpdateFunc func(data []byte, exists bool) ([]byte, error)

// Update runs the canonical optimistic read-compute-CAS loop: read the current
// document, apply fn, and conditionally replace. On a version mismatch the
// whole cycle retries with backoff until maxUpdateAttempts is exhausted.
//
// A corrupt stored document is recovered as empty: fn sees exists=false and a
// warning is logged, per the graceful-degradation contract.
func Update(ctx context.Context, s Store, id string, fn UpdateFunc) error {
	var lastErr error

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}

		doc, err := s.Get(ctx, id)
		exists := true
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			exists = false
			doc.Version = 0
		case errors.Is(err, ErrCorrupt):
			log.Printf("[DocStore] WARN: document %s is corrupt, recovering as empty", id)
			exists = false
		default:
			return fmt.Errorf("failed to read document %s: %w", id, err)
		}

		var current []byte
		if exists {
			current = doc.Data
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}

		expected := doc.Version
		if !exists {
			expected = 0
		}

		if _, err := s.CompareAndSwap(ctx, id, expected, next); err != nil {
			if errors.Is(err, ErrVersionMismatch) {
				lastErr = err
				continue
			}
			return fmt.Errorf("failed to write document %s: %w", id, err)
		}
		return nil
	}

	return fmt.Errorf("update of document %s exhausted %d attempts: %w", id, maxUpdateAttempts, lastErr)
}

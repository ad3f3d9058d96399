// storage/storage.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/backupforge/forge/chunk"
)

var (
	// ErrNotFound is returned by Get when no record exists for the
	// requested chunk id, and by GetMetadata for an unknown name.  It is
	// a distinct case: callers treat it differently from transient
	// backend failures.
	ErrNotFound = errors.New("chunk not found")

	// ErrMetadataExists is returned by PutMetadata when the named
	// metadata is already present; named metadata is write-once.
	ErrMetadataExists = errors.New("metadata already exists")
)

// Backend is the storage capability the backup core consumes.  A
// backend stores opaque chunk records keyed by content id and named
// metadata blobs (key material, serialized snapshots) keyed by name.
//
// Backends are the only layer expected to block on external I/O, so
// every operation takes a context.  Implementations must be safe for
// concurrent use by many workers.
type Backend interface {
	// String returns a short description of the backend.
	String() string

	// Put stores the record for the given chunk id.  Writing the same
	// id twice is legal and idempotent; the first write wins.
	Put(ctx context.Context, id chunk.ID, data []byte) error

	// Get returns the record stored for the given chunk id, or
	// ErrNotFound.
	Get(ctx context.Context, id chunk.ID) ([]byte, error)

	// Exists reports whether a record is stored for the given chunk id.
	Exists(ctx context.Context, id chunk.ID) (bool, error)

	// Delete removes the record for the given chunk id.  Deleting an
	// absent id is not an error.
	Delete(ctx context.Context, id chunk.ID) error

	// List returns the ids of all stored chunk records.
	List(ctx context.Context) ([]chunk.ID, error)

	// PutMetadata saves the given blob under a name.  It fails with
	// ErrMetadataExists if the name is already taken.
	PutMetadata(ctx context.Context, name string, data []byte) error

	// GetMetadata returns the blob stored under the given name, or
	// ErrNotFound.
	GetMetadata(ctx context.Context, name string) ([]byte, error)

	// MetadataExists reports whether the given named metadata is
	// present.
	MetadataExists(ctx context.Context, name string) (bool, error)

	// ListMetadata returns a map from every stored metadata name to the
	// time it was created.
	ListMetadata(ctx context.Context) (map[string]time.Time, error)
}

// dupe duplicates the provided byte slice.
func dupe(src []byte) []byte {
	d := make([]byte, len(src))
	copy(d, src)
	return d
}

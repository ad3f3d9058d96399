// engine/snapshot.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/backupforge/forge/chunk"
	"github.com/backupforge/forge/storage"
)

// FileMetadata records one successfully backed up file: everything
// restore needs to rebuild it byte for byte with its permissions and
// times.
type FileMetadata struct {
	Path    string     `cbor:"path"`
	Size    int64      `cbor:"size"`
	Mode    uint32     `cbor:"mode"`
	ModTime time.Time  `cbor:"mtime"`
	ATime   time.Time  `cbor:"atime"`
	Chunks  []chunk.ID `cbor:"chunks"`
}

// FileFailure records a file the backup couldn't capture and why.
type FileFailure struct {
	Path    string `cbor:"path"`
	Message string `cbor:"message"`
}

// Snapshot is the durable result of one backup run.
type Snapshot struct {
	ID          string    `cbor:"id"`
	Description string    `cbor:"description"`
	StartTime   time.Time `cbor:"start"`
	EndTime     time.Time `cbor:"end"`

	// Files is sorted by path; chunk ids are in file order.
	Files  []FileMetadata `cbor:"files"`
	Failed []FileFailure  `cbor:"failed"`

	// LogicalBytes counts source bytes read; StoredBytes counts record
	// bytes uploaded for chunks this run stored.  The gap between them
	// is what dedup and compression bought.
	LogicalBytes    int64 `cbor:"logical_bytes"`
	StoredBytes     int64 `cbor:"stored_bytes"`
	NewChunks       int64 `cbor:"new_chunks"`
	DuplicateChunks int64 `cbor:"duplicate_chunks"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// newSnapshot starts an empty snapshot with a fresh uuid.
func newSnapshot(description string) *Snapshot {
	return &Snapshot{
		ID:          uuid.New().String(),
		Description: description,
		StartTime:   nowUTC(),
	}
}

// sortFiles puts the file list in path order; backup workers finish in
// whatever order the chunks land.
func (s *Snapshot) sortFiles() {
	sort.Slice(s.Files, func(i, j int) bool { return s.Files[i].Path < s.Files[j].Path })
	sort.Slice(s.Failed, func(i, j int) bool { return s.Failed[i].Path < s.Failed[j].Path })
}

const snapshotPrefix = "snapshot-"

func snapshotMetadataName(id string) string {
	return snapshotPrefix + id
}

// encMode enforces deterministic CBOR encoding so identical snapshots
// serialize to identical bytes.
var encMode, _ = cbor.CanonicalEncOptions().EncMode()

// WriteSnapshot serializes the snapshot and stores it as backend
// metadata under snapshot-<id>.
func WriteSnapshot(ctx context.Context, backend storage.Backend, s *Snapshot) error {
	blob, err := encMode.Marshal(s)
	if err != nil {
		return err
	}
	return backend.PutMetadata(ctx, snapshotMetadataName(s.ID), blob)
}

// ReadSnapshot loads a snapshot by id.
func ReadSnapshot(ctx context.Context, backend storage.Backend, id string) (*Snapshot, error) {
	blob, err := backend.GetMetadata(ctx, snapshotMetadataName(id))
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := cbor.Unmarshal(blob, &s); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	return &s, nil
}

// ListSnapshots returns the ids of all stored snapshots, most recent
// first.
func ListSnapshots(ctx context.Context, backend storage.Backend) ([]string, error) {
	md, err := backend.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	type stamped struct {
		id      string
		created time.Time
	}
	var all []stamped
	for name, created := range md {
		if strings.HasPrefix(name, snapshotPrefix) {
			all = append(all, stamped{strings.TrimPrefix(name, snapshotPrefix), created})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].created.After(all[j].created) })

	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.id
	}
	return ids, nil
}

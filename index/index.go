// index/index.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

// Package index tracks which chunks are already stored so that backup
// workers upload each unique chunk exactly once, no matter how many
// files or concurrent workers produce it.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/backupforge/forge/chunk"
)

// ErrAborted is returned by Claim.Wait when the worker that first
// claimed the chunk rolled its claim back.  The waiter should claim the
// chunk again; it will now be handed the upload itself.
var ErrAborted = errors.New("claim aborted by storing worker")

// ErrUnknownChunk is returned by Release for an id the index doesn't
// know.  Besides plain misuse, this happens legitimately when a
// claimant interrupted mid-Wait tries to release a reference whose
// entry was evicted by the storing worker's rollback.
var ErrUnknownChunk = errors.New("chunk not in index")

// Outcome says whether a claim made its holder responsible for storing
// the chunk.
type Outcome int

const (
	// New means the caller is the first to see this chunk and must
	// store it, then Commit (or Rollback on failure).
	New Outcome = iota
	// Duplicate means another worker stored, or is storing, the chunk.
	// The caller must Wait before treating it as present.
	Duplicate
)

type entry struct {
	refs int64
	// done is closed on Commit or Rollback; nil for entries that were
	// already committed when referenced (or seeded by RebuildFrom).
	done    chan struct{}
	aborted bool
}

// Index is a concurrency-safe reference-counting chunk registry.
type Index struct {
	mu      sync.Mutex
	entries map[chunk.ID]*entry
}

func NewIndex() *Index {
	return &Index{entries: make(map[chunk.ID]*entry)}
}

// Claim is the result of CheckAndRegister.  Exactly one of Commit or
// Rollback must be called when Outcome is New; Wait when Duplicate.
type Claim struct {
	idx     *Index
	id      chunk.ID
	entry   *entry
	outcome Outcome
}

func (c *Claim) Outcome() Outcome { return c.outcome }

// CheckAndRegister atomically checks whether the chunk is known and
// registers one reference to it.  The check and the registration are a
// single step: two workers racing on the same unseen id get one New and
// one Duplicate claim, never two News.
func (idx *Index) CheckAndRegister(id chunk.ID) *Claim {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if e, ok := idx.entries[id]; ok {
		e.refs++
		return &Claim{idx: idx, id: id, entry: e, outcome: Duplicate}
	}

	e := &entry{refs: 1, done: make(chan struct{})}
	idx.entries[id] = e
	return &Claim{idx: idx, id: id, entry: e, outcome: New}
}

// Commit marks a New claim's chunk as durably stored, releasing any
// workers waiting on duplicate claims.
func (c *Claim) Commit() {
	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()
	close(c.entry.done)
	c.entry.done = nil
}

// Rollback abandons a New claim after a failed store.  The entry is
// evicted so a later CheckAndRegister for the id starts fresh, and any
// duplicate waiters get ErrAborted so they can re-claim.
func (c *Claim) Rollback() {
	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()
	c.entry.aborted = true
	close(c.entry.done)
	delete(c.idx.entries, c.id)
}

// Wait blocks a Duplicate claim until the storing worker commits.  On
// ErrAborted the claim is dead: the reference it registered died with
// the evicted entry, and the caller must CheckAndRegister again.
func (c *Claim) Wait(ctx context.Context) error {
	c.idx.mu.Lock()
	done := c.entry.done
	c.idx.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()
	if c.entry.aborted {
		return ErrAborted
	}
	return nil
}

// Release drops one reference to the chunk, returning the number of
// references remaining.  The chunk stays known at zero references; the
// count tells a garbage collector which stored chunks are reclaimable.
func (idx *Index) Release(id chunk.ID) (remaining int64, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[id]
	if !ok {
		return 0, fmt.Errorf("%s: %w", id, ErrUnknownChunk)
	}
	if e.refs == 0 {
		return 0, errors.New("release of unreferenced chunk " + id.String())
	}
	e.refs--
	return e.refs, nil
}

// RefCount returns the current reference count for the chunk, or -1 if
// it isn't known.
func (idx *Index) RefCount(id chunk.ID) int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if e, ok := idx.entries[id]; ok {
		return e.refs
	}
	return -1
}

// Len returns the number of known chunks.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// RebuildFrom reseeds the index from the set of chunk ids a backend
// reports as stored.  Rebuilt entries are committed with zero
// references; subsequent claims for them come back Duplicate with a
// Wait that returns immediately.
func (idx *Index) RebuildFrom(ids []chunk.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		if _, ok := idx.entries[id]; !ok {
			idx.entries[id] = &entry{}
		}
	}
}

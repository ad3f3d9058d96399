// engine/engine.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

// Package engine drives backup and restore: it splits source files into
// chunks, deduplicates them through the index, compresses and encrypts
// new chunks into storage, and assembles the snapshot describing the
// run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/backupforge/forge/chunk"
	"github.com/backupforge/forge/compress"
	"github.com/backupforge/forge/crypt"
	"github.com/backupforge/forge/index"
	"github.com/backupforge/forge/storage"
	"github.com/backupforge/forge/util"
)

// Options configures an Engine.  Zero values pick the documented
// defaults; anything inconsistent is rejected by New with a
// ConfigError before any I/O happens.
type Options struct {
	Backend storage.Backend

	Strategy chunk.Strategy
	Chunk    chunk.Config

	// Codec and ZstdLevel pick the compression for new chunks.
	Codec     compress.Codec
	ZstdLevel int

	// Suite picks the cipher for new chunks; Key is required for any
	// suite other than SuiteNone, and used to decode whatever suites
	// existing records carry.
	Suite crypt.Suite
	Key   *crypt.Key

	// Parallelism bounds concurrent chunk workers; 0 means NumCPU.
	Parallelism int

	Log *util.Logger
}

// Engine is safe for use by one backup or restore at a time; the chunk
// workers it spawns internally share one semaphore.
type Engine struct {
	backend storage.Backend
	opts    Options
	comp    *compress.Compressor
	ciphers map[crypt.Suite]*crypt.Cipher
	idx     *index.Index
	log     *util.Logger
	sem     chan bool
}

// New validates the options and builds an engine.  The dedup index
// starts empty; call RebuildIndex to seed it from what the backend
// already holds.
func New(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, &ConfigError{Reason: "no storage backend"}
	}
	if opts.Chunk == (chunk.Config{}) {
		opts.Chunk = chunk.DefaultConfig()
	}
	if err := opts.Chunk.Validate(); err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}
	if opts.Suite != crypt.SuiteNone && opts.Key == nil {
		return nil, &ConfigError{Reason: opts.Suite.String() + " requires a key"}
	}
	if opts.Parallelism < 0 {
		return nil, &ConfigError{Reason: "negative parallelism"}
	}
	if opts.Parallelism == 0 {
		opts.Parallelism = runtime.NumCPU()
	}

	comp, err := compress.New(opts.Codec, opts.ZstdLevel)
	if err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}

	// One cipher per suite we may encounter: the configured suite for
	// writing, and every keyed suite for reading old records.
	ciphers := map[crypt.Suite]*crypt.Cipher{}
	suites := []crypt.Suite{crypt.SuiteNone}
	if opts.Key != nil {
		suites = append(suites, crypt.ChaCha20Poly1305, crypt.AES256GCM)
	}
	for _, suite := range suites {
		c, err := crypt.NewCipher(suite, opts.Key)
		if err != nil {
			comp.Close()
			return nil, err
		}
		ciphers[suite] = c
	}

	return &Engine{
		backend: opts.Backend,
		opts:    opts,
		comp:    comp,
		ciphers: ciphers,
		idx:     index.NewIndex(),
		log:     opts.Log,
		sem:     make(chan bool, opts.Parallelism),
	}, nil
}

// Close releases the engine's compressor resources and zeroes the key.
func (e *Engine) Close() {
	e.comp.Close()
	if e.opts.Key != nil {
		e.opts.Key.Zero()
	}
}

// Index exposes the dedup index, mostly for inspection in tests and
// stats reporting.
func (e *Engine) Index() *index.Index { return e.idx }

// RebuildIndex reseeds the dedup index from the chunk ids the backend
// reports.  The index is volatile; a fresh process calls this once
// before its first backup so existing chunks deduplicate.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	ids, err := e.backend.List(ctx)
	if err != nil {
		return err
	}
	e.idx.RebuildFrom(ids)
	e.log.Verbose("index rebuilt from %d stored chunks", len(ids))
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Backup

// chunkResult is what one chunk worker reports back to its file.
type chunkResult struct {
	err error
	// refHeld says whether the worker still holds an index reference
	// despite the error, so file-failure cleanup can release it.
	refHeld bool
}

// Backup captures every file the source offers into a new snapshot.
// Individual file failures are recorded in the snapshot rather than
// aborting the run; the returned error covers whole-run problems
// (source walk failure, snapshot write failure, cancellation).
func (e *Engine) Backup(ctx context.Context, src Source, description string) (*Snapshot, error) {
	if description == "" {
		description = src.String()
	}
	snap := newSnapshot(description)
	e.log.Verbose("backup %s starting: %s", snap.ID, description)

	err := src.Visit(func(entry FileEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ferr := e.backupFile(ctx, entry, snap); ferr != nil {
			e.log.Warning("%s", ferr)
			snap.Failed = append(snap.Failed, FileFailure{
				Path:    entry.Path,
				Message: ferr.Error(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	snap.sortFiles()
	snap.EndTime = nowUTC()
	if err := WriteSnapshot(ctx, e.backend, snap); err != nil {
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}

	e.log.Verbose("backup %s: %d files (%d failed), %s logical, %s stored, "+
		"%d new / %d duplicate chunks",
		snap.ID, len(snap.Files), len(snap.Failed),
		util.FmtBytes(snap.LogicalBytes), util.FmtBytes(snap.StoredBytes),
		snap.NewChunks, snap.DuplicateChunks)
	return snap, nil
}

// backupFile splits one file into chunks, stores the new ones, and
// appends the file's metadata to the snapshot.  On failure the file's
// already-registered references are released so the snapshot never
// counts chunks of files it doesn't contain.
func (e *Engine) backupFile(ctx context.Context, entry FileEntry, snap *Snapshot) *FileError {
	r, err := entry.Open()
	if err != nil {
		return &FileError{Path: entry.Path, Err: err}
	}
	defer r.Close()

	splitter, err := chunk.NewSplitter(e.opts.Strategy, r, e.opts.Chunk)
	if err != nil {
		return &FileError{Path: entry.Path, Err: err}
	}

	var (
		ids     []chunk.ID
		results []*chunkResult
		wg      sync.WaitGroup
		size    int64
		readErr error
	)

	for {
		if err := ctx.Err(); err != nil {
			readErr = err
			break
		}
		data, err := splitter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}
		size += int64(len(data))

		id := chunk.Identify(data)
		res := &chunkResult{}
		ids = append(ids, id)
		results = append(results, res)

		e.sem <- true
		wg.Add(1)
		go func() {
			defer func() { <-e.sem; wg.Done() }()
			res.refHeld, res.err = e.storeChunk(ctx, id, data, snap)
		}()
	}
	wg.Wait()

	ferr := &FileError{Path: entry.Path, Err: readErr}
	failed := readErr != nil
	for i, res := range results {
		if res.err != nil && !failed {
			failed = true
			ferr = &FileError{Path: entry.Path, Chunk: ids[i], Err: res.err}
		}
	}

	if failed {
		for i, res := range results {
			if res.err == nil || res.refHeld {
				if _, err := e.idx.Release(ids[i]); err != nil {
					// A claimant interrupted mid-Wait can find its entry
					// already evicted by the writer's rollback; that
					// reference died with the entry and needs no release.
					if res.err == nil || !errors.Is(err, index.ErrUnknownChunk) {
						e.log.Error("%s: %s", entry.Path, err)
					}
				}
			}
		}
		return ferr
	}

	atomic.AddInt64(&snap.LogicalBytes, size)
	snap.Files = append(snap.Files, FileMetadata{
		Path:    entry.Path,
		Size:    size,
		Mode:    uint32(entry.Mode),
		ModTime: entry.ModTime.UTC(),
		ATime:   entry.ATime.UTC(),
		Chunks:  ids,
	})
	e.log.Debug("%s: %d chunks, %s", entry.Path, len(ids), util.FmtBytes(size))
	return nil
}

// storeChunk registers one occurrence of the chunk and, if this worker
// drew the upload, compresses, encrypts and stores it.  On success the
// worker holds one index reference for its occurrence.
func (e *Engine) storeChunk(ctx context.Context, id chunk.ID, data []byte,
	snap *Snapshot) (refHeld bool, err error) {
	for {
		claim := e.idx.CheckAndRegister(id)
		if claim.Outcome() == index.Duplicate {
			err := claim.Wait(ctx)
			if errors.Is(err, index.ErrAborted) {
				// The storing worker failed and evicted the entry;
				// claim again, this round may hand us the upload.
				continue
			}
			if err != nil {
				// Context error: the reference is registered but the
				// chunk never confirmed.  Report it held for cleanup.
				return true, err
			}
			atomic.AddInt64(&snap.DuplicateChunks, 1)
			return true, nil
		}

		record, err := e.encodeChunk(data)
		if err != nil {
			claim.Rollback()
			return false, err
		}
		if err := e.backend.Put(ctx, id, record); err != nil {
			claim.Rollback()
			return false, fmt.Errorf("storing chunk: %w", err)
		}
		claim.Commit()

		atomic.AddInt64(&snap.NewChunks, 1)
		atomic.AddInt64(&snap.StoredBytes, int64(len(record)))
		e.log.Debug("%s: stored %s record", id, util.FmtBytes(int64(len(record))))
		return true, nil
	}
}

// encodeChunk turns raw chunk bytes into the stored record form:
// compress, encrypt, tag.
func (e *Engine) encodeChunk(data []byte) ([]byte, error) {
	codec, body, err := e.comp.Compress(data)
	if err != nil {
		return nil, err
	}
	sealed, err := e.ciphers[e.opts.Suite].Seal(body)
	if err != nil {
		return nil, err
	}
	return EncodeRecord(codec, e.opts.Suite, sealed), nil
}

// loadChunk fetches a chunk record and undoes the record encoding,
// verifying that the recovered bytes still hash to the id.
func (e *Engine) loadChunk(ctx context.Context, id chunk.ID) ([]byte, error) {
	record, err := e.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	codec, suite, body, err := DecodeRecord(record)
	if err != nil {
		return nil, &CorruptionError{Chunk: id, Detail: err.Error()}
	}

	cipher, ok := e.ciphers[suite]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %s record but no key configured", id, suite)
	}
	opened, err := cipher.Open(body)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", id, err)
	}
	data, err := e.comp.Decompress(codec, opened)
	if err != nil {
		return nil, &CorruptionError{Chunk: id, Detail: err.Error()}
	}
	if chunk.Identify(data) != id {
		return nil, &CorruptionError{Chunk: id, Detail: "content does not match id"}
	}
	return data, nil
}

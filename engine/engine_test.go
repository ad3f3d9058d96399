// engine/engine_test.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backupforge/forge/chunk"
	"github.com/backupforge/forge/compress"
	"github.com/backupforge/forge/crypt"
	"github.com/backupforge/forge/storage"
)

// smallChunks keeps test inputs modest while still producing multiple
// chunks per file.
func smallChunks() chunk.Config {
	return chunk.Config{MinSize: 128, AvgSize: 1024, MaxSize: 4096}
}

func testKey() *crypt.Key {
	var k crypt.Key
	rand.New(rand.NewSource(7)).Read(k[:])
	return &k
}

func newTestEngine(t *testing.T, backend storage.Backend) *Engine {
	e, err := New(Options{
		Backend:     backend,
		Chunk:       smallChunks(),
		Codec:       compress.Zstd,
		Suite:       crypt.ChaCha20Poly1305,
		Key:         testKey(),
		Parallelism: 4,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

// writeTree populates dir with the given files and returns it.
func writeTree(t *testing.T, files map[string][]byte) string {
	dir := t.TempDir()
	for path, data := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, data, 0644))
	}
	return dir
}

func randData(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	files := map[string][]byte{
		"readme.txt":      []byte("hello, world\n"),
		"data/blob.bin":   randData(1, 100*1024),
		"data/other.bin":  randData(2, 33*1024),
		"deep/a/b/c.dat":  randData(3, 5000),
		"empty.txt":       {},
		"single-byte.dat": {0x42},
	}
	srcDir := writeTree(t, files)

	// Distinct mode and times on one file to prove they round-trip.
	special := filepath.Join(srcDir, "data", "blob.bin")
	require.NoError(t, os.Chmod(special, 0600))
	mtime := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(special, mtime, mtime))

	ctx := context.Background()
	e := newTestEngine(t, storage.NewMemory())

	snap, err := e.Backup(ctx, NewTreeSource(srcDir), "round trip")
	require.NoError(t, err)
	assert.Empty(t, snap.Failed)
	assert.Len(t, snap.Files, len(files))
	assert.Equal(t, "round trip", snap.Description)
	assert.NotEmpty(t, snap.ID)
	assert.False(t, snap.EndTime.Before(snap.StartTime))

	var logical int64
	for _, data := range files {
		logical += int64(len(data))
	}
	assert.Equal(t, logical, snap.LogicalBytes)

	// File list is sorted by path.
	for i := 1; i < len(snap.Files); i++ {
		assert.Less(t, snap.Files[i-1].Path, snap.Files[i].Path)
	}

	restoreDir := t.TempDir()
	report, err := e.Restore(ctx, snap, restoreDir)
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	assert.Equal(t, len(files), report.FilesRestored)

	for path, data := range files {
		got, err := os.ReadFile(filepath.Join(restoreDir, filepath.FromSlash(path)))
		require.NoError(t, err, path)
		assert.True(t, bytes.Equal(data, got), path)
	}

	info, err := os.Stat(filepath.Join(restoreDir, "data", "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
}

///////////////////////////////////////////////////////////////////////////
// Dedup

// countingBackend counts chunk Puts so tests can prove dedup skipped
// uploads.
type countingBackend struct {
	storage.Backend
	puts int64
}

func (c *countingBackend) Put(ctx context.Context, id chunk.ID, data []byte) error {
	atomic.AddInt64(&c.puts, 1)
	return c.Backend.Put(ctx, id, data)
}

func TestSecondBackupStoresNothing(t *testing.T) {
	ctx := context.Background()
	srcDir := writeTree(t, map[string][]byte{
		"a.bin": randData(1, 64*1024),
		"b.bin": randData(2, 64*1024),
	})

	backend := &countingBackend{Backend: storage.NewMemory()}
	e := newTestEngine(t, backend)

	first, err := e.Backup(ctx, NewTreeSource(srcDir), "")
	require.NoError(t, err)
	require.Empty(t, first.Failed)
	firstPuts := atomic.LoadInt64(&backend.puts)
	assert.Equal(t, first.NewChunks, firstPuts)
	assert.Positive(t, firstPuts)

	// Unchanged tree: every chunk deduplicates, zero uploads.
	second, err := e.Backup(ctx, NewTreeSource(srcDir), "")
	require.NoError(t, err)
	require.Empty(t, second.Failed)
	assert.Equal(t, firstPuts, atomic.LoadInt64(&backend.puts))
	assert.Zero(t, second.NewChunks)
	assert.Equal(t, first.NewChunks, second.DuplicateChunks)
	assert.Zero(t, second.StoredBytes)
}

func TestDuplicateContentWithinOneBackup(t *testing.T) {
	ctx := context.Background()
	data := randData(5, 80*1024)
	srcDir := writeTree(t, map[string][]byte{
		"copy1.bin": data,
		"copy2.bin": data,
	})

	backend := &countingBackend{Backend: storage.NewMemory()}
	e := newTestEngine(t, backend)

	snap, err := e.Backup(ctx, NewTreeSource(srcDir), "")
	require.NoError(t, err)
	require.Empty(t, snap.Failed)

	// Identical files share chunks; each unique chunk uploads once and
	// carries two references.
	assert.Equal(t, snap.NewChunks, atomic.LoadInt64(&backend.puts))
	assert.Equal(t, snap.NewChunks, snap.DuplicateChunks)
	require.Len(t, snap.Files, 2)
	assert.Equal(t, snap.Files[0].Chunks, snap.Files[1].Chunks)
	for _, id := range snap.Files[0].Chunks {
		assert.Equal(t, int64(2), e.Index().RefCount(id))
	}
}

func TestRebuildIndexDeduplicatesAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	srcDir := writeTree(t, map[string][]byte{"a.bin": randData(9, 64*1024)})

	backend := &countingBackend{Backend: storage.NewMemory()}

	first := newTestEngine(t, backend)
	_, err := first.Backup(ctx, NewTreeSource(srcDir), "")
	require.NoError(t, err)
	firstPuts := atomic.LoadInt64(&backend.puts)

	// A fresh engine simulates a new process: empty index until rebuilt.
	second := newTestEngine(t, backend)
	require.NoError(t, second.RebuildIndex(ctx))
	snap, err := second.Backup(ctx, NewTreeSource(srcDir), "")
	require.NoError(t, err)
	assert.Equal(t, firstPuts, atomic.LoadInt64(&backend.puts))
	assert.Zero(t, snap.NewChunks)
}

///////////////////////////////////////////////////////////////////////////
// Failure containment

// listSource serves in-memory entries, failing the ones marked bad.
type listSource struct {
	entries map[string][]byte
	bad     map[string]bool
}

var errOpenFailed = errors.New("open failed")

func (s *listSource) String() string { return "listSource" }

func (s *listSource) Visit(f func(FileEntry) error) error {
	for path, data := range s.entries {
		entry := FileEntry{
			Path:    path,
			Size:    int64(len(data)),
			Mode:    0644,
			ModTime: time.Now(),
			ATime:   time.Now(),
		}
		if s.bad[path] {
			entry.Open = func() (io.ReadCloser, error) { return nil, errOpenFailed }
		} else {
			entry.Open = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			}
		}
		if err := f(entry); err != nil {
			return err
		}
	}
	return nil
}

func TestFileFailureIsContained(t *testing.T) {
	ctx := context.Background()
	src := &listSource{
		entries: map[string][]byte{
			"good.bin":   randData(11, 32*1024),
			"broken.bin": randData(12, 32*1024),
		},
		bad: map[string]bool{"broken.bin": true},
	}

	e := newTestEngine(t, storage.NewMemory())
	snap, err := e.Backup(ctx, src, "")
	require.NoError(t, err)

	require.Len(t, snap.Files, 1)
	assert.Equal(t, "good.bin", snap.Files[0].Path)
	require.Len(t, snap.Failed, 1)
	assert.Equal(t, "broken.bin", snap.Failed[0].Path)
	assert.Contains(t, snap.Failed[0].Message, "open failed")

	// The good file restores despite its sibling's failure.
	restoreDir := t.TempDir()
	report, err := e.Restore(ctx, snap, restoreDir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesRestored)
	got, err := os.ReadFile(filepath.Join(restoreDir, "good.bin"))
	require.NoError(t, err)
	assert.Equal(t, src.entries["good.bin"], got)
}

func TestFailedFileReleasesReferences(t *testing.T) {
	ctx := context.Background()
	shared := randData(13, 40*1024)

	// First back up a file; then fail a second backup of the same
	// content mid-read.  The failed file's duplicate references must be
	// released.
	e := newTestEngine(t, storage.NewMemory())
	good := &listSource{entries: map[string][]byte{"a.bin": shared}}
	snap, err := e.Backup(ctx, good, "")
	require.NoError(t, err)
	require.Empty(t, snap.Failed)

	before := make(map[chunk.ID]int64)
	for _, id := range snap.Files[0].Chunks {
		before[id] = e.Index().RefCount(id)
	}

	failing := &listSource{
		entries: map[string][]byte{"b.bin": shared},
		bad:     map[string]bool{"b.bin": true},
	}
	snap2, err := e.Backup(ctx, failing, "")
	require.NoError(t, err)
	require.Len(t, snap2.Failed, 1)

	for id, refs := range before {
		assert.Equal(t, refs, e.Index().RefCount(id))
	}
}

func TestBackupHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srcDir := writeTree(t, map[string][]byte{"a.bin": randData(21, 8192)})
	e := newTestEngine(t, storage.NewMemory())
	_, err := e.Backup(ctx, NewTreeSource(srcDir), "")
	assert.ErrorIs(t, err, context.Canceled)
}

///////////////////////////////////////////////////////////////////////////
// Corruption

func TestRestoreDetectsTampering(t *testing.T) {
	ctx := context.Background()
	srcDir := writeTree(t, map[string][]byte{"a.bin": randData(31, 50*1024)})

	backend := storage.NewMemory()
	e := newTestEngine(t, backend)
	snap, err := e.Backup(ctx, NewTreeSource(srcDir), "")
	require.NoError(t, err)
	require.Empty(t, snap.Failed)

	// Flip a bit in one stored record.
	victim := snap.Files[0].Chunks[0]
	record, err := backend.Get(ctx, victim)
	require.NoError(t, err)
	record[len(record)/2] ^= 0x01
	require.NoError(t, backend.Delete(ctx, victim))
	require.NoError(t, backend.Put(ctx, victim, record))

	report, err := e.Restore(ctx, snap, t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, report.FilesRestored)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Message, victim.String())

	vreport, err := e.Verify(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, len(dedupIDs(snap)), vreport.ChunksChecked)
	require.Len(t, vreport.Problems, 1)
	assert.Equal(t, "a.bin", vreport.Problems[0].Path)
}

func dedupIDs(snap *Snapshot) map[chunk.ID]bool {
	ids := make(map[chunk.ID]bool)
	for _, f := range snap.Files {
		for _, id := range f.Chunks {
			ids[id] = true
		}
	}
	return ids
}

// cancelOnGetBackend cancels the run's context the first time a chunk
// is fetched.
type cancelOnGetBackend struct {
	storage.Backend
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnGetBackend) Get(ctx context.Context, id chunk.ID) ([]byte, error) {
	c.once.Do(c.cancel)
	return c.Backend.Get(ctx, id)
}

func TestVerifyCancellationDrainsWorkers(t *testing.T) {
	srcDir := writeTree(t, map[string][]byte{"a.bin": randData(61, 80*1024)})

	mem := storage.NewMemory()
	e := newTestEngine(t, mem)
	snap, err := e.Backup(context.Background(), NewTreeSource(srcDir), "")
	require.NoError(t, err)
	require.Greater(t, len(snap.Files[0].Chunks), 8)

	// Cancellation fires from inside the first fetch; Verify must report
	// it and come back with every worker finished and every semaphore
	// slot free.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.backend = &cancelOnGetBackend{Backend: mem, cancel: cancel}

	_, err = e.Verify(ctx, snap)
	assert.ErrorIs(t, err, context.Canceled)

	// The same engine still has its full worker capacity afterwards.
	e.backend = mem
	report, err := e.Verify(context.Background(), snap)
	require.NoError(t, err)
	assert.Empty(t, report.Problems)
	assert.Equal(t, len(dedupIDs(snap)), report.ChunksChecked)
}

func TestRestoreReportsMissingChunk(t *testing.T) {
	ctx := context.Background()
	srcDir := writeTree(t, map[string][]byte{"a.bin": randData(41, 50*1024)})

	backend := storage.NewMemory()
	e := newTestEngine(t, backend)
	snap, err := e.Backup(ctx, NewTreeSource(srcDir), "")
	require.NoError(t, err)

	require.NoError(t, backend.Delete(ctx, snap.Files[0].Chunks[0]))

	report, err := e.Restore(ctx, snap, t.TempDir())
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Message, "a.bin")

	vreport, err := e.Verify(ctx, snap)
	require.NoError(t, err)
	assert.Len(t, vreport.Problems, 1)
}

///////////////////////////////////////////////////////////////////////////
// Options

func TestOptionsValidation(t *testing.T) {
	_, err := New(Options{})
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)

	_, err = New(Options{
		Backend: storage.NewMemory(),
		Chunk:   chunk.Config{MinSize: 10, AvgSize: 5, MaxSize: 3},
	})
	assert.ErrorAs(t, err, &cerr)

	_, err = New(Options{
		Backend: storage.NewMemory(),
		Suite:   crypt.ChaCha20Poly1305,
	})
	assert.ErrorAs(t, err, &cerr)

	_, err = New(Options{
		Backend:     storage.NewMemory(),
		Parallelism: -1,
	})
	assert.ErrorAs(t, err, &cerr)

	e, err := New(Options{Backend: storage.NewMemory()})
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, chunk.DefaultConfig(), e.opts.Chunk)
}

///////////////////////////////////////////////////////////////////////////
// Cross-configuration reads

func TestRestoreAcrossConfigurations(t *testing.T) {
	// Records written with lz4+aesgcm must restore through an engine
	// configured for zstd+chacha; the record flags carry the truth.
	ctx := context.Background()
	srcDir := writeTree(t, map[string][]byte{"a.bin": randData(51, 60*1024)})
	backend := storage.NewMemory()
	key := testKey()

	writer, err := New(Options{
		Backend: backend,
		Chunk:   smallChunks(),
		Codec:   compress.LZ4,
		Suite:   crypt.AES256GCM,
		Key:     key,
	})
	require.NoError(t, err)
	snap, err := writer.Backup(ctx, NewTreeSource(srcDir), "")
	require.NoError(t, err)
	writer.comp.Close() // keep the key; Close would zero it

	keyCopy := *key
	reader, err := New(Options{
		Backend: backend,
		Chunk:   smallChunks(),
		Codec:   compress.Zstd,
		Suite:   crypt.ChaCha20Poly1305,
		Key:     &keyCopy,
	})
	require.NoError(t, err)
	defer reader.Close()

	restoreDir := t.TempDir()
	report, err := reader.Restore(ctx, snap, restoreDir)
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	got, err := os.ReadFile(filepath.Join(restoreDir, "a.bin"))
	require.NoError(t, err)
	assert.Equal(t, randData(51, 60*1024), got)
}

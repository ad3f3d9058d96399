// storage/disk.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/backupforge/forge/chunk"
)

type disk struct {
	root string
}

// NewDisk returns a Backend that stores chunk records and metadata
// under the given directory.  Chunk records are fanned out into
// chunks/<first two hex chars>/<id> so no single directory grows
// unboundedly; metadata blobs live in metadata/.  The directory is
// created if it doesn't exist.
func NewDisk(root string) (Backend, error) {
	for _, d := range []string{root, filepath.Join(root, "chunks"), filepath.Join(root, "metadata")} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return nil, fmt.Errorf("%s: %w", d, err)
		}
	}
	return &disk{root: root}, nil
}

func (d *disk) String() string {
	return "disk: " + d.root
}

func (d *disk) chunkPath(id chunk.ID) string {
	name := id.String()
	return filepath.Join(d.root, "chunks", name[:2], name)
}

func (d *disk) metadataPath(name string) string {
	return filepath.Join(d.root, "metadata", name)
}

// writeFileAtomic commits data to path via a temporary file and rename,
// so a crash mid-write never leaves a truncated record behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (d *disk) Put(_ context.Context, id chunk.ID, data []byte) error {
	path := d.chunkPath(id)
	if _, err := os.Stat(path); err == nil {
		// Already stored; the record for an id never changes.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}

func (d *disk) Get(_ context.Context, id chunk.ID) ([]byte, error) {
	b, err := os.ReadFile(d.chunkPath(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return b, err
}

func (d *disk) Exists(_ context.Context, id chunk.ID) (bool, error) {
	_, err := os.Stat(d.chunkPath(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d *disk) Delete(_ context.Context, id chunk.ID) error {
	err := os.Remove(d.chunkPath(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (d *disk) List(_ context.Context) ([]chunk.ID, error) {
	var ids []chunk.ID
	chunksDir := filepath.Join(d.root, "chunks")
	subdirs, err := os.ReadDir(chunksDir)
	if err != nil {
		return nil, err
	}
	for _, sub := range subdirs {
		if !sub.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(chunksDir, sub.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			id, err := chunk.ParseID(e.Name())
			if err != nil {
				// Leftover .tmp files and strays aren't records.
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (d *disk) PutMetadata(_ context.Context, name string, data []byte) error {
	path := d.metadataPath(name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", name, ErrMetadataExists)
	}
	return writeFileAtomic(path, data)
}

func (d *disk) GetMetadata(_ context.Context, name string) ([]byte, error) {
	b, err := os.ReadFile(d.metadataPath(name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return b, err
}

func (d *disk) MetadataExists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(d.metadataPath(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d *disk) ListMetadata(_ context.Context) (map[string]time.Time, error) {
	md := make(map[string]time.Time)
	entries, err := os.ReadDir(filepath.Join(d.root, "metadata"))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		md[e.Name()] = info.ModTime()
	}
	return md, nil
}

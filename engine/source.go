// engine/source.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package engine

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileEntry is one file a Source offers for backup.  Path is relative
// to the source root, slash-separated, and becomes the path recorded in
// the snapshot.
type FileEntry struct {
	Path    string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	ATime   time.Time

	// Open returns the file contents for chunking.  The engine closes
	// the reader when the file is done.
	Open func() (io.ReadCloser, error)
}

// Source enumerates the files of one backup run.  Visit calls f for
// each file; an error from f stops the walk.
type Source interface {
	// String returns a short description of the source, recorded in the
	// snapshot.
	String() string

	Visit(f func(FileEntry) error) error
}

// treeSource walks a directory tree on the local filesystem.  Only
// regular files are offered; directories are implied by the recorded
// paths, and symlinks, devices and sockets are skipped.
type treeSource struct {
	root string
}

// NewTreeSource returns a Source over the regular files under root.
func NewTreeSource(root string) Source {
	return &treeSource{root: root}
}

func (s *treeSource) String() string {
	return s.root
}

func atime(info fs.FileInfo) time.Time {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Atim.Sec, st.Atim.Nsec)
	}
	return info.ModTime()
}

func (s *treeSource) Visit(f func(FileEntry) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		return f(FileEntry{
			Path:    filepath.ToSlash(rel),
			Size:    info.Size(),
			Mode:    info.Mode(),
			ModTime: info.ModTime(),
			ATime:   atime(info),
			Open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		})
	})
}

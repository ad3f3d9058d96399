// engine/errors.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package engine

import (
	"fmt"

	"github.com/backupforge/forge/chunk"
)

// ConfigError reports invalid engine options.  It's detected before any
// I/O happens, so a backup never partially runs on a bad configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Reason
}

// FileError ties a failure to the file (and, when relevant, the chunk)
// it occurred on.  Backup and restore collect these per file rather
// than aborting the whole run.
type FileError struct {
	Path string
	// Chunk is the content id involved, or the zero id when the failure
	// wasn't chunk-specific (open, read, stat).
	Chunk chunk.ID
	Err   error
}

func (e *FileError) Error() string {
	if e.Chunk == (chunk.ID{}) {
		return fmt.Sprintf("%s: %s", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: chunk %s: %s", e.Path, e.Chunk, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// CorruptionError reports a stored record whose decoded content no
// longer matches its id, or whose framing is damaged.  Unlike transient
// storage failures, retrying won't help.
type CorruptionError struct {
	Chunk  chunk.ID
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("chunk %s: corrupt: %s", e.Chunk, e.Detail)
}

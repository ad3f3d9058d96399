// chunk/chunk.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package chunk

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// IDSize is the number of bytes in the content identifiers used to
// represent chunks of data.
const IDSize = 32

// ID is the fixed-size content identifier of a chunk: the BLAKE3 hash of
// the chunk's plaintext, uncompressed bytes.  Two chunks with identical
// bytes always have the same ID, which is what makes deduplication work
// across files and across backup runs.
type ID [IDSize]byte

// Identify computes the content identifier of the given bytes.
func Identify(b []byte) ID {
	return ID(blake3.Sum256(b))
}

// String returns the ID as a hexadecimal-encoded string.  This is also
// the canonical storage-backend key for the chunk's record.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID decodes an ID from its hexadecimal string encoding.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%q: %w", s, err)
	}
	if len(b) != IDSize {
		return id, fmt.Errorf("%q: decoded to %d bytes, expected %d", s, len(b), IDSize)
	}
	copy(id[:], b)
	return id, nil
}

// Strategy selects how a byte stream is cut into chunks.
type Strategy int

const (
	// ContentDefined cuts at boundaries chosen by a rolling checksum of
	// the stream contents, so that an insertion or deletion only
	// perturbs chunks near the edit.  This is the default.
	ContentDefined Strategy = iota

	// Fixed cuts every Config.AvgSize bytes.  Cheap, but a single
	// inserted byte shifts every subsequent boundary and defeats
	// deduplication across edits.
	Fixed
)

func (s Strategy) String() string {
	switch s {
	case ContentDefined:
		return "cdc"
	case Fixed:
		return "fixed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStrategy parses a chunking strategy name.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "cdc":
		return ContentDefined, nil
	case "fixed":
		return Fixed, nil
	default:
		return 0, fmt.Errorf("unknown chunking strategy: %q", name)
	}
}

// Config bounds the sizes of the chunks a splitter produces.
type Config struct {
	// MinSize is the smallest chunk the splitter will cut, except for
	// the final chunk of a stream.
	MinSize int
	// AvgSize is the expected chunk size for content-defined splitting
	// (and the exact size for fixed splitting).  Must be a power of two
	// so the boundary mask is exact.
	AvgSize int
	// MaxSize is a hard upper bound; a cut is forced when a chunk
	// reaches it.
	MaxSize int
}

// DefaultConfig returns the standard chunk size bounds:
// 256 KiB / 1 MiB / 4 MiB.
func DefaultConfig() Config {
	return Config{
		MinSize: 256 * 1024,
		AvgSize: 1024 * 1024,
		MaxSize: 4 * 1024 * 1024,
	}
}

var errAvgNotPow2 = errors.New("AvgSize must be a power of two")

// Validate reports whether the configured bounds are usable.
func (c Config) Validate() error {
	if c.MinSize < windowSize {
		return fmt.Errorf("MinSize %d is below the rolling window size %d", c.MinSize, windowSize)
	}
	if c.AvgSize < c.MinSize {
		return fmt.Errorf("AvgSize %d is smaller than MinSize %d", c.AvgSize, c.MinSize)
	}
	if c.MaxSize < c.AvgSize {
		return fmt.Errorf("MaxSize %d is smaller than AvgSize %d", c.MaxSize, c.AvgSize)
	}
	if c.AvgSize&(c.AvgSize-1) != 0 {
		return errAvgNotPow2
	}
	return nil
}

// Splitter produces the successive chunks of a byte stream.  Next
// returns io.EOF after the final chunk; an empty stream returns io.EOF
// immediately and yields zero chunks.
type Splitter interface {
	Next() ([]byte, error)
}

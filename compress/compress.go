// compress/compress.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

// Package compress shrinks chunk bodies before they're encrypted and
// stored.  Each stored record carries the codec tag that produced it,
// so reads never depend on current configuration.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression algorithm.  The values are wire tags
// stored in chunk record flags and must never be renumbered.
type Codec byte

const (
	None Codec = 0
	LZ4  Codec = 1
	Zstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", byte(c))
	}
}

// ParseCodec maps a configuration string to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%s: unknown compression codec", s)
	}
}

// ErrCorrupt is returned when a compressed body can't be decoded.  It's
// distinct from authentication failures: the record decrypted fine but
// its frame is damaged.
var ErrCorrupt = errors.New("corrupt compressed data")

// Compressor turns chunk bodies into tagged compressed frames.  It's
// safe for concurrent use; the zstd encoder and decoder are shared
// across workers.
type Compressor struct {
	codec Codec
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	level int
}

// DefaultZstdLevel matches zstd's own default.
const DefaultZstdLevel = 3

// New returns a Compressor producing frames with the given codec.
// level applies to zstd only (1-22); pass 0 for the default.
func New(codec Codec, level int) (*Compressor, error) {
	if level == 0 {
		level = DefaultZstdLevel
	}
	if level < 1 || level > 22 {
		return nil, fmt.Errorf("zstd level %d out of range [1,22]", level)
	}

	c := &Compressor{codec: codec, level: level}

	var err error
	// The decoder is always built: restore must decode whatever codec
	// old records carry, regardless of what backups use now.
	c.dec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, err
	}
	if codec == Zstd {
		c.enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Codec returns the codec the compressor was configured with.
func (c *Compressor) Codec() Codec { return c.codec }

// Compress encodes data with the configured codec and returns the tag
// to store alongside it.  If the encoded form isn't smaller the
// original bytes are returned tagged None; already-compressed chunks
// (media, archives) aren't worth storing inflated.
func (c *Compressor) Compress(data []byte) (Codec, []byte, error) {
	var out []byte
	switch c.codec {
	case None:
		return None, data, nil
	case Zstd:
		out = c.enc.EncodeAll(data, make([]byte, 0, len(data)))
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if err := w.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return None, nil, err
		}
		if _, err := w.Write(data); err != nil {
			return None, nil, err
		}
		if err := w.Close(); err != nil {
			return None, nil, err
		}
		out = buf.Bytes()
	default:
		return None, nil, fmt.Errorf("%s: unknown compression codec", c.codec)
	}

	if len(out) >= len(data) {
		return None, data, nil
	}
	return c.codec, out, nil
}

// Decompress decodes a body previously produced by Compress under the
// given tag.
func (c *Compressor) Decompress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case None:
		return data, nil
	case Zstd:
		out, err := c.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
		}
		return out, nil
	case LZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: unknown compression codec", codec)
	}
}

// Close releases the resources held by the shared zstd encoder and
// decoder.
func (c *Compressor) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	c.dec.Close()
}

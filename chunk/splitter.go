// chunk/splitter.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package chunk

import (
	"bufio"
	"io"
)

// Rolling checksum from bup.  The lowest bits of the digest are the
// most useful ones to test against the boundary mask.
const splitterCharOffset = 31
const windowBits = 6
const windowSize = 1 << windowBits

// contentSplitter cuts a stream at content-defined boundaries.  It
// maintains the bup-style s1/s2 rolling sums over a sliding window of
// the last windowSize bytes; once a chunk has reached MinSize, the
// first position whose digest matches the boundary mask ends the chunk,
// and a cut is forced at MaxSize if no boundary appears.  The state is
// reset after every cut so boundary decisions depend only on bytes
// since the previous cut.
type contentSplitter struct {
	r      io.ByteReader
	cfg    Config
	mask   uint32
	s1, s2 uint32
	window [windowSize]byte
	wofs   int
	count  int
	done   bool
}

// NewSplitter returns a Splitter that cuts the byte stream from r using
// the given strategy and size bounds.  The reader is wrapped with a
// bufio.Reader if it isn't byte-addressable already; the splitter
// consumes the input a byte at a time.
func NewSplitter(strategy Strategy, r io.Reader, cfg Config) (Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if strategy == Fixed {
		return &fixedSplitter{r: r, size: cfg.AvgSize}, nil
	}

	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	s := &contentSplitter{
		r:    br,
		cfg:  cfg,
		mask: uint32(cfg.AvgSize - 1),
	}
	s.reset()
	return s, nil
}

func (s *contentSplitter) reset() {
	s.s1 = windowSize * splitterCharOffset
	s.s2 = windowSize * (windowSize - 1) * splitterCharOffset
	s.wofs = 0
	s.count = 0
	for i := range s.window {
		s.window[i] = 0
	}
}

func (s *contentSplitter) addByte(b byte) {
	drop := s.window[s.wofs]
	s.s1 += uint32(b) - uint32(drop)
	s.s2 += s.s1 - windowSize*uint32(drop+splitterCharOffset)
	s.window[s.wofs] = b
	s.wofs = (s.wofs + 1) % windowSize
	s.count++
}

func (s *contentSplitter) atBoundary() bool {
	if s.count < s.cfg.MinSize {
		return false
	}
	digest := (s.s1 << 16) | (s.s2 & 0xffff)
	return digest&s.mask == s.mask
}

func (s *contentSplitter) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	chunk := make([]byte, 0, s.cfg.AvgSize)
	for {
		b, err := s.r.ReadByte()
		if err == io.EOF {
			s.done = true
			if len(chunk) == 0 {
				return nil, io.EOF
			}
			return chunk, nil
		}
		if err != nil {
			return nil, err
		}

		s.addByte(b)
		chunk = append(chunk, b)
		if s.atBoundary() || len(chunk) == s.cfg.MaxSize {
			s.reset()
			return chunk, nil
		}
	}
}

// fixedSplitter cuts the stream every size bytes.
type fixedSplitter struct {
	r    io.Reader
	size int
	done bool
}

func (s *fixedSplitter) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	chunk := make([]byte, s.size)
	n, err := io.ReadFull(s.r, chunk)
	switch err {
	case nil:
		return chunk, nil
	case io.EOF:
		s.done = true
		return nil, io.EOF
	case io.ErrUnexpectedEOF:
		s.done = true
		return chunk[:n], nil
	default:
		return nil, err
	}
}

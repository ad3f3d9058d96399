// engine/record.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package engine

import (
	"fmt"

	"github.com/backupforge/forge/compress"
	"github.com/backupforge/forge/crypt"
)

// Stored chunk records are one flags byte followed by the body:
//
//	flags low nibble:  compression tag (0 none, 1 lz4, 2 zstd)
//	flags high nibble: cipher suite    (0 none, 1 chacha20poly1305, 2 aes256gcm)
//	body, encrypted:   nonce(12) || ciphertext || tag(16)
//	body, plaintext:   the (possibly compressed) chunk bytes
//
// The flags make each record self-describing: restore decodes whatever
// a record carries, independent of the engine's current configuration.
// Compression frames carry their own lengths, so nothing else is
// needed.

// EncodeRecord prepends the flags byte for a processed chunk body.
func EncodeRecord(codec compress.Codec, suite crypt.Suite, body []byte) []byte {
	record := make([]byte, 1+len(body))
	record[0] = byte(codec)&0x0f | byte(suite)<<4
	copy(record[1:], body)
	return record
}

// DecodeRecord splits a stored record into its tags and body.  The body
// aliases the record; callers must not hold the record after mutating
// the body.
func DecodeRecord(record []byte) (compress.Codec, crypt.Suite, []byte, error) {
	if len(record) < 1 {
		return 0, 0, nil, fmt.Errorf("empty chunk record")
	}
	codec := compress.Codec(record[0] & 0x0f)
	suite := crypt.Suite(record[0] >> 4)
	if codec > compress.Zstd {
		return 0, 0, nil, fmt.Errorf("unknown compression tag %d", codec)
	}
	if suite > crypt.AES256GCM {
		return 0, 0, nil, fmt.Errorf("unknown cipher suite tag %d", suite)
	}
	return codec, suite, record[1:], nil
}

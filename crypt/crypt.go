// crypt/crypt.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

// Package crypt encrypts chunk bodies with an AEAD cipher under a key
// derived from a passphrase.  Tampering with a stored record is caught
// at decryption, before the bytes go anywhere near a restored file.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Suite identifies an AEAD cipher suite.  The values are wire tags
// stored in chunk record flags and must never be renumbered.
type Suite byte

const (
	SuiteNone        Suite = 0
	ChaCha20Poly1305 Suite = 1
	AES256GCM        Suite = 2
)

func (s Suite) String() string {
	switch s {
	case SuiteNone:
		return "none"
	case ChaCha20Poly1305:
		return "chacha20poly1305"
	case AES256GCM:
		return "aes256gcm"
	default:
		return fmt.Sprintf("suite(%d)", byte(s))
	}
}

// ParseSuite maps a configuration string to a Suite.
func ParseSuite(s string) (Suite, error) {
	switch s {
	case "none":
		return SuiteNone, nil
	case "chacha20poly1305":
		return ChaCha20Poly1305, nil
	case "aes256gcm":
		return AES256GCM, nil
	default:
		return SuiteNone, fmt.Errorf("%s: unknown cipher suite", s)
	}
}

const (
	// KeySize is the session key length; both suites take 256-bit keys.
	KeySize = 32
	// NonceSize is the per-chunk nonce length prepended to ciphertexts.
	NonceSize = 12
	// TagSize is the authentication tag length appended by Seal.
	TagSize = 16
)

// ErrAuthentication is returned by Open when a record fails
// authentication: the bytes were modified, or the key is wrong.
var ErrAuthentication = errors.New("message authentication failed")

// Key is a 256-bit session key.
type Key [KeySize]byte

// Zero overwrites the key material.  Call it when the key goes out of
// service; Go can't promise the bytes were never copied, but there's no
// reason to leave the canonical copy sitting in memory.
func (k *Key) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// Cipher seals and opens chunk bodies for one suite and key.  It is
// safe for concurrent use.
type Cipher struct {
	suite Suite
	aead  cipher.AEAD
}

// NewCipher returns a Cipher for the given suite and session key.  With
// SuiteNone, Seal and Open pass bodies through unchanged.
func NewCipher(suite Suite, key *Key) (*Cipher, error) {
	c := &Cipher{suite: suite}
	var err error
	switch suite {
	case SuiteNone:
		return c, nil
	case ChaCha20Poly1305:
		c.aead, err = chacha20poly1305.New(key[:])
	case AES256GCM:
		var block cipher.Block
		block, err = aes.NewCipher(key[:])
		if err == nil {
			c.aead, err = cipher.NewGCM(block)
		}
	default:
		err = fmt.Errorf("%s: unknown cipher suite", suite)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Suite returns the suite the cipher was built for.
func (c *Cipher) Suite() Suite { return c.suite }

// Seal encrypts body, returning nonce || ciphertext || tag.  A fresh
// random nonce is drawn per call; with 96-bit nonces the collision
// bound stays comfortable for any realistic chunk count.
func (c *Cipher) Seal(body []byte) ([]byte, error) {
	if c.aead == nil {
		return body, nil
	}
	out := make([]byte, NonceSize, NonceSize+len(body)+TagSize)
	if _, err := rand.Read(out[:NonceSize]); err != nil {
		return nil, err
	}
	return c.aead.Seal(out, out[:NonceSize], body, nil), nil
}

// Open decrypts and authenticates a sealed body.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if c.aead == nil {
		return sealed, nil
	}
	if len(sealed) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: sealed body too short", ErrAuthentication)
	}
	body, err := c.aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return body, nil
}

// constantTimeEqual is subtle.ConstantTimeCompare with a bool result.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// crypt/keys.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package crypt

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/backupforge/forge/storage"
)

// Key material never touches the backend.  What is stored, in the
// write-once keys.txt metadata blob, is the KDF salt and parameters
// plus a verifier: the first half of the 64-byte argon2id output.  The
// second half is the session key; it exists only in memory.  An
// attacker holding keys.txt must still grind the passphrase through
// argon2id, and matching the verifier tells them nothing about the
// session key half.
const keysMetadataName = "keys.txt"

const saltSize = 16

// ErrWrongPassphrase is returned by LoadKey when the passphrase doesn't
// reproduce the stored verifier.
var ErrWrongPassphrase = errors.New("incorrect passphrase")

// ErrNoKeys is returned by LoadKey when the backend has no key
// metadata; the repository was initialized without encryption.
var ErrNoKeys = errors.New("no key metadata present")

// Params are the argon2id cost parameters.  They're recorded next to
// the salt so old repositories keep decrypting after defaults change.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultParams follows the argon2id recommendation of 64MiB and
// a single pass, with parallelism matching small client machines.
func DefaultParams() Params {
	return Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}
}

func derive(passphrase string, salt []byte, p Params) (verifier []byte, key *Key) {
	out := argon2.IDKey([]byte(passphrase), salt, p.Time, p.MemoryKiB, p.Threads,
		2*KeySize)
	key = new(Key)
	copy(key[:], out[KeySize:])
	for i := KeySize; i < len(out); i++ {
		out[i] = 0
	}
	return out[:KeySize], key
}

// CreateKey initializes key material for a repository: it draws a
// fresh salt, derives the session key from the passphrase, and stores
// salt, parameters and verifier as write-once metadata.  It fails if
// the repository already has keys.
func CreateKey(ctx context.Context, backend storage.Backend, passphrase string,
	p Params) (*Key, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	if p.Time < 1 || p.MemoryKiB < 8 || p.Threads < 1 {
		return nil, fmt.Errorf("bad KDF parameters %+v", p)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	verifier, key := derive(passphrase, salt, p)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "forge-keys-v1\n")
	fmt.Fprintf(&buf, "salt: %s\n", hex.EncodeToString(salt))
	fmt.Fprintf(&buf, "time: %d\n", p.Time)
	fmt.Fprintf(&buf, "memory: %d\n", p.MemoryKiB)
	fmt.Fprintf(&buf, "threads: %d\n", p.Threads)
	fmt.Fprintf(&buf, "verifier: %s\n", hex.EncodeToString(verifier))

	if err := backend.PutMetadata(ctx, keysMetadataName, buf.Bytes()); err != nil {
		key.Zero()
		return nil, err
	}
	return key, nil
}

// HasKey reports whether the repository was initialized with
// encryption.
func HasKey(ctx context.Context, backend storage.Backend) (bool, error) {
	return backend.MetadataExists(ctx, keysMetadataName)
}

// LoadKey re-derives the session key for an existing repository,
// checking the passphrase against the stored verifier.
func LoadKey(ctx context.Context, backend storage.Backend, passphrase string) (*Key, error) {
	blob, err := backend.GetMetadata(ctx, keysMetadataName)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoKeys
	}
	if err != nil {
		return nil, err
	}

	salt, p, verifier, err := parseKeysFile(blob)
	if err != nil {
		return nil, err
	}

	derived, key := derive(passphrase, salt, p)
	if !constantTimeEqual(derived, verifier) {
		key.Zero()
		return nil, ErrWrongPassphrase
	}
	return key, nil
}

func parseKeysFile(blob []byte) (salt []byte, p Params, verifier []byte, err error) {
	lines := bytes.Split(blob, []byte("\n"))
	if len(lines) == 0 || string(lines[0]) != "forge-keys-v1" {
		return nil, p, nil, errors.New("keys.txt: unrecognized format")
	}
	for _, line := range lines[1:] {
		if len(line) == 0 {
			continue
		}
		name, value, found := bytes.Cut(line, []byte(": "))
		if !found {
			return nil, p, nil, fmt.Errorf("keys.txt: malformed line %q", line)
		}
		switch string(name) {
		case "salt":
			salt, err = hex.DecodeString(string(value))
		case "time":
			_, err = fmt.Sscanf(string(value), "%d", &p.Time)
		case "memory":
			_, err = fmt.Sscanf(string(value), "%d", &p.MemoryKiB)
		case "threads":
			_, err = fmt.Sscanf(string(value), "%d", &p.Threads)
		case "verifier":
			verifier, err = hex.DecodeString(string(value))
		default:
			err = fmt.Errorf("keys.txt: unknown field %q", name)
		}
		if err != nil {
			return nil, p, nil, err
		}
	}
	if len(salt) != saltSize || len(verifier) != KeySize ||
		p.Time < 1 || p.MemoryKiB < 8 || p.Threads < 1 {
		return nil, p, nil, errors.New("keys.txt: missing or invalid fields")
	}
	return salt, p, verifier, nil
}

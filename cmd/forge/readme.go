// cmd/forge/readme.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var readmeCmd = &cobra.Command{
	Use:   "readme",
	Short: "print a description of the repository storage format",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(readme)
	},
}

// The storage format documentation travels with the binary so it's at
// hand wherever a repository turns up.
const readme = `forge repository format
=======================

A repository is a flat object store: chunk records keyed by content id,
plus a handful of named metadata blobs.  On local disk that is

    <repo>/chunks/<first two hex chars>/<64-char hex id>
    <repo>/metadata/<name>

and on GCS the objects chunks/<hex id> and metadata/<name> in the
bucket.

Chunking
--------

Files are split at content-defined boundaries with a rolling checksum
(default bounds 256 KiB minimum, 1 MiB average, 4 MiB maximum), so an
insertion early in a file shifts at most a couple of chunks.  A chunk's
id is the BLAKE3 hash of its raw contents; equal chunks anywhere in any
backup share one stored record.

Chunk records
-------------

A record is one flags byte followed by the body:

    flags low nibble:  compression (0 none, 1 lz4, 2 zstd)
    flags high nibble: cipher      (0 none, 1 chacha20poly1305, 2 aes256gcm)

The body is the compressed chunk, sealed when encryption is on as
nonce(12) || ciphertext || tag(16).  Compression runs before
encryption; chunks that don't shrink are stored uncompressed.  Records
are self-describing, so restores don't depend on the current
configuration.

Keys
----

metadata/keys.txt holds the KDF salt, the argon2id parameters, and a
verifier.  The passphrase is stretched by argon2id to 64 bytes: the
first 32 must match the verifier, the last 32 are the session key and
are never stored.  Without the passphrase the records are opaque;
tampering with a record fails its authentication tag on read.

Snapshots
---------

metadata/snapshot-<uuid> is a CBOR document listing every captured
file (path, size, mode, mtime, atime, and its ordered chunk ids),
per-file failures, and the run's aggregate counters.  Restoring walks
the list, fetches each file's chunks, verifies each one hashes back to
its id, and reassembles the file with its recorded mode and times.

Parity
------

With --parity N+M each record is stored as a container ("RSP1") of N
data and M Reed-Solomon parity shards with per-shard CRC32-Castagnoli
checksums; up to M corrupted shards per record are healed transparently
on read.
`

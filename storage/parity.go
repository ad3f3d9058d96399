// storage/parity.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/klauspost/reedsolomon"

	"github.com/backupforge/forge/chunk"
)

// Chunk records passed through a parity backend are wrapped in a
// self-contained Reed-Solomon container:
//
//	"RSP1" | uvarint(dataLen) | nData(1) | nParity(1) |
//	crc32c per shard (4 bytes each, data shards then parity shards) |
//	shard bytes (data shards then parity shards, equal sizes)
//
// The per-shard CRCs locate bit rot; the parity shards heal it.  Up to
// nParity corrupted shards per record are reconstructed transparently
// on Get.
var parityMagic = []byte("RSP1")

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

type parity struct {
	backend Backend
	nData   int
	nParity int
}

// NewParity wraps a backend so chunk records are stored with
// Reed-Solomon parity.  Metadata blobs are passed through unchanged;
// they are small and already duplicated by the layers above.
func NewParity(backend Backend, nData, nParity int) (Backend, error) {
	if nData < 1 || nParity < 1 || nData+nParity > 255 {
		return nil, fmt.Errorf("bad parity shard counts %d+%d", nData, nParity)
	}
	return &parity{backend: backend, nData: nData, nParity: nParity}, nil
}

func (p *parity) String() string {
	return fmt.Sprintf("parity(%d+%d) %s", p.nData, p.nParity, p.backend.String())
}

func (p *parity) Put(ctx context.Context, id chunk.ID, data []byte) error {
	enc, err := reedsolomon.New(p.nData, p.nParity)
	if err != nil {
		return err
	}

	// Split pads the final shard with zeros so all shards are the same
	// size; the container records the true data length.
	shards, err := enc.Split(data)
	if err != nil {
		return fmt.Errorf("%s: split: %w", id, err)
	}
	if err := enc.Encode(shards); err != nil {
		return fmt.Errorf("%s: encode: %w", id, err)
	}

	var buf bytes.Buffer
	buf.Write(parityMagic)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
	buf.Write(lenBuf[:n])
	buf.WriteByte(byte(p.nData))
	buf.WriteByte(byte(p.nParity))
	for _, shard := range shards {
		var crc [4]byte
		binary.BigEndian.PutUint32(crc[:], crc32.Checksum(shard, castagnoliTable))
		buf.Write(crc[:])
	}
	for _, shard := range shards {
		buf.Write(shard)
	}

	return p.backend.Put(ctx, id, buf.Bytes())
}

func (p *parity) Get(ctx context.Context, id chunk.ID) ([]byte, error) {
	stored, err := p.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeParityContainer(id, stored)
}

func decodeParityContainer(id chunk.ID, stored []byte) ([]byte, error) {
	r := bytes.NewReader(stored)
	magic := make([]byte, len(parityMagic))
	if _, err := r.Read(magic); err != nil || !bytes.Equal(magic, parityMagic) {
		return nil, fmt.Errorf("%s: record has no parity container magic", id)
	}
	dataLen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%s: truncated parity header", id)
	}
	counts := make([]byte, 2)
	if _, err := r.Read(counts); err != nil {
		return nil, fmt.Errorf("%s: truncated parity header", id)
	}
	nData, nParity := int(counts[0]), int(counts[1])
	if nData < 1 || nParity < 1 {
		return nil, fmt.Errorf("%s: bad shard counts %d+%d", id, nData, nParity)
	}
	total := nData + nParity

	crcs := make([]uint32, total)
	for i := range crcs {
		var crc [4]byte
		if _, err := r.Read(crc[:]); err != nil {
			return nil, fmt.Errorf("%s: truncated parity header", id)
		}
		crcs[i] = binary.BigEndian.Uint32(crc[:])
	}

	body := stored[len(stored)-r.Len():]
	if len(body)%total != 0 {
		return nil, fmt.Errorf("%s: shard body length %d not divisible by %d", id, len(body), total)
	}
	shardSize := len(body) / total

	// The header itself is covered by no CRC, so none of its fields can
	// be trusted yet; in particular the recorded length must be checked
	// against the actual shard capacity before it sizes an allocation.
	// Rot in the header is still just a corrupt record, not a crash.
	if dataLen > uint64(nData)*uint64(shardSize) {
		return nil, fmt.Errorf("%s: recorded length %d exceeds %d shards of %d bytes",
			id, dataLen, nData, shardSize)
	}

	shards := make([][]byte, total)
	bad := 0
	for i := range shards {
		shard := body[i*shardSize : (i+1)*shardSize]
		if crc32.Checksum(shard, castagnoliTable) == crcs[i] {
			shards[i] = shard
		} else {
			bad++
		}
	}

	if bad > 0 {
		if bad > nParity {
			return nil, fmt.Errorf("%s: %d corrupt shards, only %d recoverable", id, bad, nParity)
		}
		enc, err := reedsolomon.New(nData, nParity)
		if err != nil {
			return nil, err
		}
		if err := enc.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("%s: reconstruct: %w", id, err)
		}
	}

	data := make([]byte, 0, int(dataLen))
	for i := 0; i < nData; i++ {
		data = append(data, shards[i]...)
	}
	return data[:dataLen], nil
}

func (p *parity) Exists(ctx context.Context, id chunk.ID) (bool, error) {
	return p.backend.Exists(ctx, id)
}

func (p *parity) Delete(ctx context.Context, id chunk.ID) error {
	return p.backend.Delete(ctx, id)
}

func (p *parity) List(ctx context.Context) ([]chunk.ID, error) {
	return p.backend.List(ctx)
}

func (p *parity) PutMetadata(ctx context.Context, name string, data []byte) error {
	return p.backend.PutMetadata(ctx, name, data)
}

func (p *parity) GetMetadata(ctx context.Context, name string) ([]byte, error) {
	return p.backend.GetMetadata(ctx, name)
}

func (p *parity) MetadataExists(ctx context.Context, name string) (bool, error) {
	return p.backend.MetadataExists(ctx, name)
}

func (p *parity) ListMetadata(ctx context.Context) (map[string]time.Time, error) {
	return p.backend.ListMetadata(ctx)
}

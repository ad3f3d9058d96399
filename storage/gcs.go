// storage/gcs.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/backupforge/forge/chunk"
)

// Implements the Backend interface storing chunk records and metadata
// in a Google Cloud Storage bucket.  Chunk records live under the
// chunks/ prefix, named metadata under metadata/.
type gcsBackend struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
}

type GCSOptions struct {
	BucketName string
	ProjectId  string
	// Optional. Will use "us-central1" if not specified.
	Location string
}

// NewGCS returns a Backend backed by the named GCS bucket, creating the
// bucket if it doesn't exist.  Credentials come from the environment in
// the usual Google Cloud ways.
func NewGCS(ctx context.Context, options GCSOptions) (Backend, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	bucket := client.Bucket(options.BucketName)
	if _, err := bucket.Attrs(ctx); errors.Is(err, gcs.ErrBucketNotExist) {
		loc := options.Location
		if loc == "" {
			loc = "us-central1"
		}
		if options.ProjectId == "" {
			return nil, fmt.Errorf("%s: project id required to create bucket",
				options.BucketName)
		}
		err := bucket.Create(ctx, options.ProjectId, &gcs.BucketAttrs{Location: loc})
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return &gcsBackend{client: client, bucket: bucket, name: options.BucketName}, nil
}

func (g *gcsBackend) String() string {
	return "gs://" + g.name
}

func chunkObjectName(id chunk.ID) string {
	return "chunks/" + id.String()
}

func metadataObjectName(name string) string {
	return "metadata/" + name
}

func (g *gcsBackend) upload(ctx context.Context, name string, data []byte) error {
	obj := g.bucket.Object(name)
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	// Double-check that the CRC we compute locally is the same as what
	// GCS thinks it is; a mismatch means the bytes were corrupted in
	// flight (or in local memory), and either way the object is no good.
	localCrc := crc32.Checksum(data, castagnoliTable)
	if gcsCrc := w.Attrs().CRC32C; localCrc != gcsCrc {
		obj.Delete(ctx)
		return fmt.Errorf("%s: CRC32 checksum mismatch. Local: %d, GCS: %d",
			name, localCrc, gcsCrc)
	}
	return nil
}

func (g *gcsBackend) Put(ctx context.Context, id chunk.ID, data []byte) error {
	name := chunkObjectName(id)
	// Checking for existence by grabbing the attrs is much cheaper than
	// uploading the whole object only to find out it's already there.
	if _, err := g.bucket.Object(name).Attrs(ctx); err == nil {
		return nil
	}
	return g.upload(ctx, name, data)
}

func (g *gcsBackend) download(ctx context.Context, name string) ([]byte, error) {
	r, err := g.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *gcsBackend) Get(ctx context.Context, id chunk.ID) ([]byte, error) {
	return g.download(ctx, chunkObjectName(id))
}

func (g *gcsBackend) exists(ctx context.Context, name string) (bool, error) {
	_, err := g.bucket.Object(name).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}

func (g *gcsBackend) Exists(ctx context.Context, id chunk.ID) (bool, error) {
	return g.exists(ctx, chunkObjectName(id))
}

func (g *gcsBackend) Delete(ctx context.Context, id chunk.ID) error {
	err := g.bucket.Object(chunkObjectName(id)).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (g *gcsBackend) forObjects(ctx context.Context, prefix string,
	f func(name string, created time.Time)) error {
	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		obj, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		f(obj.Name, obj.Created)
	}
}

func (g *gcsBackend) List(ctx context.Context) ([]chunk.ID, error) {
	var ids []chunk.ID
	err := g.forObjects(ctx, "chunks/", func(name string, _ time.Time) {
		id, err := chunk.ParseID(strings.TrimPrefix(name, "chunks/"))
		if err == nil {
			ids = append(ids, id)
		}
	})
	return ids, err
}

func (g *gcsBackend) PutMetadata(ctx context.Context, name string, data []byte) error {
	obj := metadataObjectName(name)
	if ok, err := g.exists(ctx, obj); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%s: %w", name, ErrMetadataExists)
	}
	return g.upload(ctx, obj, data)
}

func (g *gcsBackend) GetMetadata(ctx context.Context, name string) ([]byte, error) {
	return g.download(ctx, metadataObjectName(name))
}

func (g *gcsBackend) MetadataExists(ctx context.Context, name string) (bool, error) {
	return g.exists(ctx, metadataObjectName(name))
}

func (g *gcsBackend) ListMetadata(ctx context.Context) (map[string]time.Time, error) {
	md := make(map[string]time.Time)
	err := g.forObjects(ctx, "metadata/", func(name string, created time.Time) {
		md[strings.TrimPrefix(name, "metadata/")] = created
	})
	return md, err
}

// storage/retry.go
// Copyright(c) 2026 The forge authors
// BSD licensed; see LICENSE for details.

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/backupforge/forge/chunk"
)

// RetryPolicy bounds how a retrying backend handles transient failures.
type RetryPolicy struct {
	// MaxTries is the total number of attempts per operation.
	MaxTries int
	// BaseDelay is the sleep after the first failure; each subsequent
	// failure doubles it.
	BaseDelay time.Duration
}

// DefaultRetryPolicy retries five times with 100ms initial backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 5, BaseDelay: 100 * time.Millisecond}
}

type retrying struct {
	backend Backend
	policy  RetryPolicy
}

// NewRetrying wraps a backend so that transient failures are retried
// with bounded exponential backoff.  ErrNotFound, ErrMetadataExists and
// context cancellation are never retried: they aren't transient, and
// retrying corrupt results cannot fix them.
func NewRetrying(backend Backend, policy RetryPolicy) Backend {
	if policy.MaxTries < 1 {
		policy.MaxTries = 1
	}
	return &retrying{backend: backend, policy: policy}
}

func (r *retrying) String() string {
	return "retrying " + r.backend.String()
}

func retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrMetadataExists) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (r *retrying) do(ctx context.Context, f func() error) error {
	delay := r.policy.BaseDelay
	var err error
	for try := 0; try < r.policy.MaxTries; try++ {
		if try > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
		if err = f(); !retriable(err) {
			return err
		}
	}
	return err
}

func (r *retrying) Put(ctx context.Context, id chunk.ID, data []byte) error {
	return r.do(ctx, func() error { return r.backend.Put(ctx, id, data) })
}

func (r *retrying) Get(ctx context.Context, id chunk.ID) ([]byte, error) {
	var b []byte
	err := r.do(ctx, func() error {
		var err error
		b, err = r.backend.Get(ctx, id)
		return err
	})
	return b, err
}

func (r *retrying) Exists(ctx context.Context, id chunk.ID) (bool, error) {
	var ok bool
	err := r.do(ctx, func() error {
		var err error
		ok, err = r.backend.Exists(ctx, id)
		return err
	})
	return ok, err
}

func (r *retrying) Delete(ctx context.Context, id chunk.ID) error {
	return r.do(ctx, func() error { return r.backend.Delete(ctx, id) })
}

func (r *retrying) List(ctx context.Context) ([]chunk.ID, error) {
	var ids []chunk.ID
	err := r.do(ctx, func() error {
		var err error
		ids, err = r.backend.List(ctx)
		return err
	})
	return ids, err
}

func (r *retrying) PutMetadata(ctx context.Context, name string, data []byte) error {
	return r.do(ctx, func() error { return r.backend.PutMetadata(ctx, name, data) })
}

func (r *retrying) GetMetadata(ctx context.Context, name string) ([]byte, error) {
	var b []byte
	err := r.do(ctx, func() error {
		var err error
		b, err = r.backend.GetMetadata(ctx, name)
		return err
	})
	return b, err
}

func (r *retrying) MetadataExists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := r.do(ctx, func() error {
		var err error
		ok, err = r.backend.MetadataExists(ctx, name)
		return err
	})
	return ok, err
}

func (r *retrying) ListMetadata(ctx context.Context) (map[string]time.Time, error) {
	var md map[string]time.Time
	err := r.do(ctx, func() error {
		var err error
		md, err = r.backend.ListMetadata(ctx)
		return err
	})
	return md, err
}

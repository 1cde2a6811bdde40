// Package store defines the backing-store interface the lockbox vault
// depends on, plus two reference implementations (Memory and File) for
// tests and small local deployments. The production backing store is an
// external collaborator, out of scope for this module (spec.md §1); it
// need only satisfy KV.
package store

import (
	"context"
	"errors"
	"iter"
)

// ErrNotFound is returned by Get when key does not exist.
var ErrNotFound = errors.New("store: key not found")

// KV is an opaque, ordered, persistent map from string keys to opaque byte
// blobs, atomic at the single-key level (spec.md §1, §4.4).
type KV interface {
	// Open prepares the store for use. It must be idempotent.
	Open(ctx context.Context) error

	// Close releases any resources held by the store.
	Close(ctx context.Context) error

	// Get returns the blob stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put atomically stores blob at key, replacing any existing value.
	Put(ctx context.Context, key string, blob []byte) error

	// Delete removes key. It is not an error if key does not exist.
	Delete(ctx context.Context, key string) error

	// Iterate yields every (key, blob) pair whose key has the given prefix,
	// in unspecified order.
	Iterate(ctx context.Context, prefix string) iter.Seq2[string, []byte]

	// Clear removes every key in the store.
	Clear(ctx context.Context) error
}

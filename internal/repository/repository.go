package repository

import "context"

// Repository persists opaque blobs under string keys. It plays the role of
// the browser's local storage for the conversation store: one well-known key,
// fully rewritten on every save.
type Repository interface {
	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put overwrites the blob stored under key.
	Put(ctx context.Context, key string, value []byte) error
}

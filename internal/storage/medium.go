package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("key not found")
	ErrUnavailable = errors.New("storage medium unavailable")
)

// Medium is a string key/value store holding serialized cart state.
// Get returns ErrNotFound when the key is absent.
type Medium interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

// Package cache provides the small key-value cache the permission registry
// uses to avoid re-resolving grants on every capability check. A process-local
// memory cache is the default; Redis is available for deployments that run
// several packrat processes against one database.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss indicates the key was not found.
var ErrMiss = errors.New("cache miss")

// Cache is the interface both backends implement.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

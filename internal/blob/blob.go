// Package blob stores avatar images: one object per user id in an
// S3-compatible bucket, with an in-memory implementation for tests and for
// running without object storage configured.
package blob

import (
	"context"

	"tarpaulin/internal/apierr"
)

// Store is the object-store surface the avatar handlers need. Get and
// Delete return a not-found error when no object exists under the key.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

func errNoObject(key string) error {
	return apierr.NotFound("no avatar stored for %s", key)
}

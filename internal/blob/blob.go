// Package blob provides the object storage adapter used for analysis record
// persistence. The backing store is a flat key/blob service with no
// transactions, no compare-and-swap, and no read-after-write guarantee:
// a List immediately after a Put may return zero, one, or multiple physical
// objects for the same logical key. Callers own conflict resolution.
package blob

import (
	"context"
	"errors"
	"time"
)

// Object describes one physical object in the store. A logical key may be
// represented by several physical objects at once; consumers must collapse
// them by UploadedAt.
type Object struct {
	Key        string    `json:"key"`
	URL        string    `json:"url"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ErrObjectNotFound is returned by Fetch when the URL does not resolve to a
// stored object.
var ErrObjectNotFound = errors.New("object not found")

// Client is the adapter contract. Every method is a blocking, independently
// failable I/O call. Implementations must be safe for concurrent use.
type Client interface {
	// Put writes body under key as a new physical object and returns its
	// metadata. It must not be assumed to overwrite previous versions.
	Put(ctx context.Context, key string, body []byte) (Object, error)

	// List returns all physical objects whose key starts with prefix.
	// The result may transiently contain multiple versions per key.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Fetch returns the body of the object identified by url.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// Delete removes the single physical object identified by url.
	// Deleting an unknown url is not an error.
	Delete(ctx context.Context, url string) error
}

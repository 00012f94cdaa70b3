package storage

import (
	"context"
	"errors"
	"io"
)

// ErrBlobNotFound is returned by Get when no blob exists for a reference.
var ErrBlobNotFound = errors.New("blob not found")

// Backend is an opaque key to bytes store for file contents. Every stored blob
// belongs to exactly one file node through its storage reference.
type Backend interface {
	// Put stores the content and returns a new, unique reference to it. size
	// may be -1 when unknown.
	Put(ctx context.Context, content io.Reader, size int64, name, contentType string) (string, error)

	// Get opens the blob for reading. The caller closes the returned reader.
	Get(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, ref string) error

	// Name identifies the provider; it is recorded on every file node.
	Name() string
}

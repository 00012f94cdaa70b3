package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ProviderFileSystem is the provider name recorded for blobs on local disk.
const ProviderFileSystem = "FileSystem"

// FileSystemStore stores blobs as files under a base directory, one file per
// reference.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// Name implements Backend.
func (fs *FileSystemStore) Name() string { return ProviderFileSystem }

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Put writes content to a new blob and returns its reference. Partial files are
// removed when the copy fails or ctx is cancelled mid-copy.
func (fs *FileSystemStore) Put(ctx context.Context, content io.Reader, _ int64, _, _ string) (string, error) {
	ref := uuid.NewString()
	blobPath := fs.blobPath(ref)

	file, err := os.Create(blobPath)
	if err != nil {
		return "", fmt.Errorf("failed to create blob %s: %w", blobPath, err)
	}

	_, err = io.Copy(file, &ctxReader{ctx: ctx, r: content})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(blobPath)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	return ref, nil
}

// Get opens the blob stored under ref.
func (fs *FileSystemStore) Get(_ context.Context, ref string) (io.ReadCloser, error) {
	if !validRef(ref) {
		return nil, ErrBlobNotFound
	}
	f, err := os.Open(fs.blobPath(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open blob %s: %w", ref, err)
	}
	return f, nil
}

// Delete removes the blob stored under ref.
func (fs *FileSystemStore) Delete(_ context.Context, ref string) error {
	if !validRef(ref) {
		return nil
	}
	blobPath := fs.blobPath(ref)
	if err := os.Remove(blobPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", blobPath, err)
	}
	return nil
}

func (fs *FileSystemStore) blobPath(ref string) string {
	return filepath.Join(fs.basePath, ref)
}

// validRef rejects references that could escape the base directory.
func validRef(ref string) bool {
	_, err := uuid.Parse(ref)
	return err == nil
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"securelink/internal/server/filesystem"
	"securelink/internal/server/node"
	"securelink/internal/server/policy"
	"securelink/internal/server/storage"
)

// Download is an open file stream. The caller must close Content.
type Download struct {
	File    *node.File
	Content io.ReadCloser
}

// Download checks expiry, access and PIN, then opens the file's blob. An
// expired file is deleted on the spot and reported as not found. A file inside
// a PIN-protected folder also needs req.FolderPIN unless the requester owns
// the folder. Files marked burn-after-download are flagged as accessed once
// Content has been read to the end, so the next sweep removes them; an
// interrupted transfer leaves the file available.
func (s *Service) Download(ctx context.Context, req Requester, id uuid.UUID, pin string) (*Download, error) {
	file, err := s.resolveFile(ctx, id)
	if err != nil {
		return nil, err
	}

	if file.Expired(s.now()) {
		if err := s.engine.Delete(ctx, file.ID); err != nil {
			slog.Error("failed to delete expired file", "id", file.ID, "error", err)
		}
		return nil, fmt.Errorf("%w: file %s has expired", filesystem.ErrNotFound, id)
	}

	if err := s.authorize(ctx, file, req, policy.IntentDownload); err != nil {
		return nil, err
	}
	if err := checkPIN(file, pin); err != nil {
		return nil, err
	}
	if file.ParentID != nil {
		parent, err := s.engine.ResolveFolder(ctx, *file.ParentID)
		switch {
		case err == nil:
			if err := checkFolderPIN(parent, req); err != nil {
				return nil, err
			}
		case !errors.Is(err, filesystem.ErrNotFound):
			return nil, err
		}
	}

	content, err := s.backend.Get(ctx, file.StorageRef)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			slog.Warn("blob missing for file", "id", file.ID, "storage_ref", file.StorageRef)
			return nil, fmt.Errorf("%w: content of file %s", filesystem.ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", filesystem.ErrStorageUnavailable, err)
	}

	if file.BurnAfterDownload && !file.IsAccessed {
		content = &burnOnEOF{
			ReadCloser: content,
			markAccessed: func() error {
				if err := s.engine.MarkAccessed(context.WithoutCancel(ctx), file.ID); err != nil {
					return err
				}
				file.IsAccessed = true
				slog.Info("burn-after-download file fully read", "id", file.ID)
				return nil
			},
		}
	}

	s.record(ctx, req, actionDownload, file, "")
	return &Download{File: file, Content: content}, nil
}

// burnOnEOF marks its file accessed when the content has been read to the end.
type burnOnEOF struct {
	io.ReadCloser
	markAccessed func() error
	marked       bool
}

func (b *burnOnEOF) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if errors.Is(err, io.EOF) && !b.marked {
		b.marked = true
		if merr := b.markAccessed(); merr != nil {
			return n, fmt.Errorf("failed to mark file accessed: %w", merr)
		}
	}
	return n, err
}

// ConfirmBurn archives a burn-after-download file once the client confirms
// receipt. The row stays resolvable until the reaper removes it.
func (s *Service) ConfirmBurn(ctx context.Context, req Requester, id uuid.UUID) error {
	file, err := s.resolveFile(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, file, req, policy.IntentDownload); err != nil {
		return err
	}
	if !file.BurnAfterDownload {
		return fmt.Errorf("%w: file is not marked for burn-after-download", filesystem.ErrInvalidOperation)
	}

	if !file.IsAccessed {
		if err := s.engine.MarkAccessed(ctx, file.ID); err != nil {
			return err
		}
	}
	if _, err := s.engine.Archive(ctx, file.ID); err != nil {
		return err
	}

	s.record(ctx, req, actionConfirmBurn, file, "")
	slog.Info("archived file after burn confirmation", "id", file.ID, "name", file.Name)
	return nil
}

func (s *Service) resolveFile(ctx context.Context, id uuid.UUID) (*node.File, error) {
	n, err := s.engine.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	file, ok := n.(*node.File)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a file", filesystem.ErrInvalidOperation, id)
	}
	return file, nil
}

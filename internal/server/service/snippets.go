package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"securelink/internal/server/database"
	"securelink/internal/server/filesystem"
)

const (
	maxSnippetTitle   = 255
	maxSnippetContent = 64 << 10
	entitySnippet     = "snippet"
)

// SnippetInput describes a text snippet to create.
type SnippetInput struct {
	Title         string
	Content       string
	ExpiresInDays int // 0 never expires
	BurnAfterRead bool
}

// CreateSnippet stores a text snippet owned by the requester.
func (s *Service) CreateSnippet(ctx context.Context, req Requester, in SnippetInput) (*database.Snippet, error) {
	if req.anonymous() {
		return nil, fmt.Errorf("%w: creating snippets requires authentication", filesystem.ErrUnauthorized)
	}

	title := strings.TrimSpace(in.Title)
	switch {
	case in.Content == "":
		return nil, fmt.Errorf("%w: snippet content is empty", ErrInvalidInput)
	case len(in.Content) > maxSnippetContent:
		return nil, fmt.Errorf("%w: snippet content exceeds %d bytes", ErrInvalidInput, maxSnippetContent)
	case len(title) > maxSnippetTitle:
		return nil, fmt.Errorf("%w: snippet title exceeds %d bytes", ErrInvalidInput, maxSnippetTitle)
	case in.ExpiresInDays < 0:
		return nil, fmt.Errorf("%w: expiry must not be negative", ErrInvalidInput)
	}

	now := s.now().UTC()
	snippet := &database.Snippet{
		ID:            uuid.New(),
		Title:         title,
		Content:       in.Content,
		OwnerID:       req.ID,
		CreatedAt:     now,
		BurnAfterRead: in.BurnAfterRead,
	}
	if in.ExpiresInDays > 0 {
		t := now.AddDate(0, 0, in.ExpiresInDays)
		snippet.ExpiresAt = &t
	}

	if err := s.store.CreateSnippet(ctx, snippet); err != nil {
		return nil, err
	}

	s.recordEntity(ctx, req, actionSnippet, entitySnippet, snippet.ID, snippet.Title)
	slog.Info("snippet created", "id", snippet.ID, "owner", snippet.OwnerID, "burn_after_read", snippet.BurnAfterRead)
	return snippet, nil
}

// GetSnippet returns a snippet to anyone holding its id. An expired snippet is
// deleted and reported as ErrExpired. A burn-after-read snippet is deleted as
// it is read, so only one caller ever sees it.
func (s *Service) GetSnippet(ctx context.Context, req Requester, id uuid.UUID) (*database.Snippet, error) {
	snippet, err := s.store.GetSnippet(ctx, id)
	if err != nil {
		return nil, snippetError(err, id)
	}

	if snippet.Expired(s.now()) {
		if err := s.store.DeleteSnippet(ctx, id); err != nil {
			slog.Error("failed to delete expired snippet", "id", id, "error", err)
		}
		return nil, fmt.Errorf("%w: snippet %s", ErrExpired, id)
	}

	if snippet.BurnAfterRead {
		snippet, err = s.store.TakeSnippet(ctx, id)
		if err != nil {
			return nil, snippetError(err, id)
		}
		slog.Info("burn-after-read snippet consumed", "id", id)
	}

	s.recordEntity(ctx, req, actionSnippetRead, entitySnippet, id, "")
	return snippet, nil
}

func snippetError(err error, id uuid.UUID) error {
	if errors.Is(err, database.ErrSnippetNotFound) {
		return fmt.Errorf("%w: snippet %s", filesystem.ErrNotFound, id)
	}
	return err
}

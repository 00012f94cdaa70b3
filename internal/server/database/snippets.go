package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrSnippetNotFound = errors.New("snippet not found")

const snippetColumns = `id, title, content, owner_id, created_at, expires_at, burn_after_read`

func scanSnippet(r row) (*Snippet, error) {
	var (
		s                  Snippet
		created, expiresAt timestamp
	)
	if err := r.Scan(&s.ID, &s.Title, &s.Content, &s.OwnerID, &created, &expiresAt, &s.BurnAfterRead); err != nil {
		return nil, err
	}
	s.CreatedAt = created.t
	s.ExpiresAt = expiresAt.ptr()
	return &s, nil
}

// CreateSnippet stores a new snippet.
func (r *Repository) CreateSnippet(ctx context.Context, s *Snippet) error {
	_, err := r.db.conn.Exec(ctx, `
		INSERT INTO snippets (`+snippetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Title, s.Content, s.OwnerID, s.CreatedAt.UTC(), utcPtr(s.ExpiresAt), s.BurnAfterRead)
	if err != nil {
		return fmt.Errorf("failed to create snippet: %w", err)
	}
	return nil
}

// GetSnippet retrieves a snippet without consuming it.
func (r *Repository) GetSnippet(ctx context.Context, id uuid.UUID) (*Snippet, error) {
	s, err := scanSnippet(r.db.conn.QueryRow(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrSnippetNotFound
		}
		return nil, fmt.Errorf("failed to get snippet: %w", err)
	}
	return s, nil
}

// TakeSnippet deletes a snippet and returns it in one statement, so only one
// caller ever receives a burn-after-read snippet.
func (r *Repository) TakeSnippet(ctx context.Context, id uuid.UUID) (*Snippet, error) {
	s, err := scanSnippet(r.db.conn.QueryRow(ctx,
		`DELETE FROM snippets WHERE id = ? RETURNING `+snippetColumns, id))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrSnippetNotFound
		}
		return nil, fmt.Errorf("failed to take snippet: %w", err)
	}
	return s, nil
}

// DeleteSnippet removes a snippet. Deleting an absent snippet is not an error.
func (r *Repository) DeleteSnippet(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.conn.Exec(ctx, `DELETE FROM snippets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snippet: %w", err)
	}
	return nil
}

// DeleteExpiredSnippets removes every snippet whose expiry is before now and
// returns how many went.
func (r *Repository) DeleteExpiredSnippets(ctx context.Context, now time.Time) (int64, error) {
	affected, err := r.db.conn.Exec(ctx,
		`DELETE FROM snippets WHERE expires_at IS NOT NULL AND expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired snippets: %w", err)
	}
	return affected, nil
}

// Package service composes the access policy, the filesystem engine, the blob
// store and the audit log into the request-level use cases.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"securelink/internal/server/config"
	"securelink/internal/server/database"
	"securelink/internal/server/filesystem"
	"securelink/internal/server/node"
	"securelink/internal/server/policy"
	"securelink/internal/server/storage"
)

// Sentinel errors for the service layer. Access and lookup failures use the
// filesystem error kinds.
var (
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrInvalidInput = errors.New("invalid input")
	ErrExpired      = errors.New("expired")
)

const (
	maxBulkDelete    = 100
	minSearchLength  = 2
	maxSearchResults = 50
	shareTokenLength = 32
	maxAuditEntries  = 100
)

// Audit actions.
const (
	actionUpload       = "upload"
	actionCreateFolder = "create_folder"
	actionDownload     = "download"
	actionDelete       = "delete"
	actionMove         = "move"
	actionArchive      = "archive"
	actionRestore      = "restore"
	actionConfirmBurn  = "confirm_burn"
	actionSettings     = "update_settings"
	actionShareCreate  = "share_create"
	actionShareRevoke  = "share_revoke"
	actionSnippet      = "create_snippet"
	actionSnippetRead  = "read_snippet"
)

// AuditSink records user actions. *database.AuditRepository satisfies it.
type AuditSink interface {
	Record(ctx context.Context, actorID, action, entityType, entityID, details string) error
}

// AuditReader reads recorded actions back. An AuditSink that also satisfies
// it enables History; *database.AuditRepository does.
type AuditReader interface {
	EntityLogs(ctx context.Context, entityType, entityID string, limit int) ([]*database.AuditEntry, error)
}

// Store is what the service reads and writes outside the tree: aggregate
// statistics and text snippets. *database.Repository satisfies it.
type Store interface {
	GetStats(ctx context.Context) (*database.Stats, error)
	CreateSnippet(ctx context.Context, s *database.Snippet) error
	GetSnippet(ctx context.Context, id uuid.UUID) (*database.Snippet, error)
	TakeSnippet(ctx context.Context, id uuid.UUID) (*database.Snippet, error)
	DeleteSnippet(ctx context.Context, id uuid.UUID) error
}

// Requester identifies the caller of a use case. Every field may be empty.
type Requester struct {
	ID         string // authenticated user id; empty for anonymous callers
	ShareToken string
	FolderPIN  string // PIN presented for a PIN-protected folder
}

func (r Requester) anonymous() bool { return r.ID == "" }

// actor is the id recorded in audit entries.
func (r Requester) actor() string {
	if r.anonymous() {
		return node.OwnerAnonymous
	}
	return r.ID
}

// Service contains the business logic behind the HTTP API.
type Service struct {
	engine  *filesystem.Engine
	backend storage.Backend
	audit   AuditSink
	store   Store
	cfg     *config.Config
	now     func() time.Time
}

// New creates a new Service. audit may be nil.
func New(engine *filesystem.Engine, backend storage.Backend, audit AuditSink, store Store, cfg *config.Config) *Service {
	return &Service{
		engine:  engine,
		backend: backend,
		audit:   audit,
		store:   store,
		cfg:     cfg,
		now:     time.Now,
	}
}

// authorize evaluates the access policy for n, resolving the parent folder of
// a file when a share token is presented.
func (s *Service) authorize(ctx context.Context, n node.Node, req Requester, intent policy.Intent) error {
	pr := policy.Request{
		Node:        n,
		RequesterID: req.ID,
		ShareToken:  req.ShareToken,
		Intent:      intent,
	}

	if f, ok := n.(*node.File); ok && req.ShareToken != "" && f.ParentID != nil {
		parent, err := s.engine.ResolveFolder(ctx, *f.ParentID)
		switch {
		case err == nil:
			pr.Parent = parent
		case !errors.Is(err, filesystem.ErrNotFound):
			return err
		}
	}

	if !policy.Evaluate(pr) {
		return fmt.Errorf("%w: %s on %s", filesystem.ErrForbidden, intent, n.Base().ID)
	}
	return nil
}

// checkPIN maps PIN failures onto ErrUnauthorized.
func checkPIN(n node.Node, pin string) error {
	if err := policy.CheckPIN(n.Base(), pin); err != nil {
		return fmt.Errorf("%w: %v", filesystem.ErrUnauthorized, err)
	}
	return nil
}

// checkFolderPIN enforces a folder's PIN on everyone but its owner.
func checkFolderPIN(f *node.Folder, req Requester) error {
	if f.PinHash == nil || (!req.anonymous() && req.ID == f.OwnerID) {
		return nil
	}
	return checkPIN(f, req.FolderPIN)
}

func hashOptionalPIN(pin string) (*string, error) {
	if pin == "" {
		return nil, nil
	}
	hash, err := policy.HashPIN(pin)
	if err != nil {
		return nil, err
	}
	return &hash, nil
}

// record writes an audit entry for a node. Failures are logged and never
// returned.
func (s *Service) record(ctx context.Context, req Requester, action string, n node.Node, details string) {
	s.recordEntity(ctx, req, action, string(n.Kind()), n.Base().ID, details)
}

func (s *Service) recordEntity(ctx context.Context, req Requester, action, entityType string, id uuid.UUID, details string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(context.WithoutCancel(ctx), req.actor(), action, entityType, id.String(), details); err != nil {
		slog.Warn("failed to record audit entry",
			"action", action,
			"entity_id", id,
			"error", err,
		)
	}
}

// Get returns a node the requester may view.
func (s *Service) Get(ctx context.Context, req Requester, id uuid.UUID) (node.Node, error) {
	n, err := s.engine.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, n, req, policy.IntentView); err != nil {
		return nil, err
	}
	return n, nil
}

// Path returns the chain of folders down to id.
func (s *Service) Path(ctx context.Context, req Requester, id uuid.UUID) ([]node.Node, error) {
	n, err := s.Get(ctx, req, id)
	if err != nil {
		return nil, err
	}
	return s.engine.PathTo(ctx, n.Base().ID)
}

// Size returns the total size below a node the requester may view.
func (s *Service) Size(ctx context.Context, req Requester, id uuid.UUID) (int64, error) {
	if _, err := s.Get(ctx, req, id); err != nil {
		return 0, err
	}
	return s.engine.ComputeSize(ctx, id)
}

// History returns the most recent audit entries for a node, newest first.
// Only the owner may read them.
func (s *Service) History(ctx context.Context, req Requester, id uuid.UUID) ([]*database.AuditEntry, error) {
	n, err := s.engine.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, n, req, policy.IntentSettings); err != nil {
		return nil, err
	}

	reader, ok := s.audit.(AuditReader)
	if !ok {
		return nil, nil
	}
	return reader.EntityLogs(ctx, string(n.Kind()), id.String(), maxAuditEntries)
}

// Search finds the requester's nodes by name.
func (s *Service) Search(ctx context.Context, req Requester, query string) ([]node.Node, error) {
	if req.anonymous() {
		return nil, fmt.Errorf("%w: search requires authentication", filesystem.ErrUnauthorized)
	}
	if len([]rune(query)) < minSearchLength {
		return nil, fmt.Errorf("%w: query must be at least %d characters", ErrInvalidInput, minSearchLength)
	}
	return s.engine.Search(ctx, req.ID, query, maxSearchResults)
}

// GetStats returns aggregate server statistics.
func (s *Service) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.store.GetStats(ctx)
}

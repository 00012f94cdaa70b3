package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"securelink/internal/server/filesystem"
	"securelink/internal/server/node"
	"securelink/internal/server/policy"
)

const shareTokenAttempts = 3

// ShareInput sets the permissions granted to share-link holders.
type ShareInput struct {
	AllowView     bool
	AllowUpload   bool
	AllowDownload bool
	ExpiresAt     *time.Time
}

// ShareStatus describes a folder's share link.
type ShareStatus struct {
	Shared        bool
	Token         string
	URL           string
	AllowView     bool
	AllowUpload   bool
	AllowDownload bool
	ExpiresAt     *time.Time
}

// SharedFolder is what a share-link holder sees.
type SharedFolder struct {
	Folder   *node.Folder
	Children []node.Node
}

// CreateShare issues a new share token for a folder, replacing any previous one.
func (s *Service) CreateShare(ctx context.Context, req Requester, id uuid.UUID, in ShareInput) (*ShareStatus, error) {
	folder, err := s.engine.ResolveFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, folder, req, policy.IntentSettings); err != nil {
		return nil, err
	}

	perms := filesystem.SharePermissions{
		AllowView:     in.AllowView,
		AllowUpload:   in.AllowUpload,
		AllowDownload: in.AllowDownload,
		ExpiresAt:     in.ExpiresAt,
	}

	for attempt := 0; attempt < shareTokenAttempts; attempt++ {
		token, err := generateSecureToken(shareTokenLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate share token: %w", err)
		}

		shared, err := s.engine.SetShare(ctx, id, token, perms)
		if errors.Is(err, filesystem.ErrShareTokenTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.record(ctx, req, actionShareCreate, shared, "")
		return s.shareStatus(shared), nil
	}
	return nil, fmt.Errorf("could not allocate a unique share token after %d attempts", shareTokenAttempts)
}

// RevokeShare removes a folder's share link and all anonymous permissions.
func (s *Service) RevokeShare(ctx context.Context, req Requester, id uuid.UUID) error {
	folder, err := s.engine.ResolveFolder(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, folder, req, policy.IntentSettings); err != nil {
		return err
	}

	revoked, err := s.engine.RevokeShare(ctx, id)
	if err != nil {
		return err
	}
	s.record(ctx, req, actionShareRevoke, revoked, "")
	return nil
}

// ShareStatus reports whether a folder is shared and with which permissions.
func (s *Service) ShareStatus(ctx context.Context, req Requester, id uuid.UUID) (*ShareStatus, error) {
	folder, err := s.engine.ResolveFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, folder, req, policy.IntentSettings); err != nil {
		return nil, err
	}
	return s.shareStatus(folder), nil
}

func (s *Service) shareStatus(f *node.Folder) *ShareStatus {
	if f.ShareToken == nil {
		return &ShareStatus{Shared: false}
	}
	return &ShareStatus{
		Shared:        true,
		Token:         *f.ShareToken,
		URL:           fmt.Sprintf("%s/share/%s", s.cfg.BaseURL, *f.ShareToken),
		AllowView:     f.AllowAnonymousView,
		AllowUpload:   f.AllowAnonymousUpload,
		AllowDownload: f.AllowAnonymousDownload,
		ExpiresAt:     f.ExpiresAt,
	}
}

// OpenShare resolves a share token to its folder and the folder's visible
// children. The folder must allow anonymous viewing and must not be expired.
// Share links are opened anonymously, so a folder PIN always applies.
func (s *Service) OpenShare(ctx context.Context, req Requester) (*SharedFolder, error) {
	folder, err := s.engine.ResolveShare(ctx, req.ShareToken)
	if err != nil {
		return nil, err
	}
	if folder.Expired(s.now()) {
		return nil, fmt.Errorf("%w: share link has expired", filesystem.ErrNotFound)
	}

	req = Requester{ShareToken: req.ShareToken, FolderPIN: req.FolderPIN}
	if err := s.authorize(ctx, folder, req, policy.IntentView); err != nil {
		return nil, err
	}
	if err := checkFolderPIN(folder, req); err != nil {
		return nil, err
	}

	children, err := s.engine.ListChildren(ctx, &folder.ID, folder.OwnerID)
	if err != nil {
		return nil, err
	}
	return &SharedFolder{Folder: folder, Children: withoutExpired(children, s.now())}, nil
}

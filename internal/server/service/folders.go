package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"securelink/internal/server/filesystem"
	"securelink/internal/server/node"
	"securelink/internal/server/policy"
)

// FolderInput describes a folder to create.
type FolderInput struct {
	ParentID  *uuid.UUID
	Name      string
	PIN       string
	ExpiresAt *time.Time // nil applies the configured default
}

// CreateFolder creates a folder owned by the requester.
func (s *Service) CreateFolder(ctx context.Context, req Requester, in FolderInput) (*node.Folder, error) {
	if req.anonymous() {
		return nil, fmt.Errorf("%w: creating folders requires authentication", filesystem.ErrUnauthorized)
	}
	if in.ParentID != nil {
		parent, err := s.engine.ResolveFolder(ctx, *in.ParentID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, parent, req, policy.IntentUpload); err != nil {
			return nil, err
		}
	}

	expiresAt := in.ExpiresAt
	if expiresAt == nil {
		t := s.now().UTC().Add(s.cfg.FolderDefaultExpiry)
		expiresAt = &t
	}

	pinHash, err := hashOptionalPIN(in.PIN)
	if err != nil {
		return nil, err
	}

	folder, err := s.engine.CreateFolder(ctx, &node.Folder{
		Header: node.Header{
			Name:      strings.TrimSpace(in.Name),
			OwnerID:   req.ID,
			ParentID:  in.ParentID,
			ExpiresAt: expiresAt,
			PinHash:   pinHash,
		},
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, req, actionCreateFolder, folder, folder.Name)
	return folder, nil
}

// List returns the visible children of parentID. Without a parent it lists the
// requester's root level. Expired children are left out. A PIN-protected
// folder also needs req.FolderPIN unless the requester owns it.
func (s *Service) List(ctx context.Context, req Requester, parentID *uuid.UUID) ([]node.Node, error) {
	var (
		children []node.Node
		err      error
	)

	if parentID == nil {
		if req.anonymous() {
			return nil, fmt.Errorf("%w: listing the root requires authentication", filesystem.ErrUnauthorized)
		}
		children, err = s.engine.ListChildren(ctx, nil, req.ID)
	} else {
		parent, rerr := s.engine.ResolveFolder(ctx, *parentID)
		if rerr != nil {
			return nil, rerr
		}
		if err := s.authorize(ctx, parent, req, policy.IntentView); err != nil {
			return nil, err
		}
		if err := checkFolderPIN(parent, req); err != nil {
			return nil, err
		}
		children, err = s.engine.ListChildren(ctx, parentID, parent.OwnerID)
	}
	if err != nil {
		return nil, err
	}

	return withoutExpired(children, s.now()), nil
}

func withoutExpired(nodes []node.Node, now time.Time) []node.Node {
	out := nodes[:0]
	for _, n := range nodes {
		if !n.Base().Expired(now) {
			out = append(out, n)
		}
	}
	return out
}

// Move re-parents a node. The requester needs move rights on the node and
// upload rights on the destination.
func (s *Service) Move(ctx context.Context, req Requester, id uuid.UUID, newParentID *uuid.UUID) (node.Node, error) {
	n, err := s.engine.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, n, req, policy.IntentMove); err != nil {
		return nil, err
	}
	if newParentID != nil {
		dest, err := s.engine.ResolveFolder(ctx, *newParentID)
		if err != nil {
			return nil, err
		}
		if err := s.authorize(ctx, dest, req, policy.IntentUpload); err != nil {
			return nil, err
		}
	}

	moved, err := s.engine.Move(ctx, id, newParentID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, req, actionMove, moved, "")
	return moved, nil
}

// Archive hides a node from listings.
func (s *Service) Archive(ctx context.Context, req Requester, id uuid.UUID) (node.Node, error) {
	return s.setArchived(ctx, req, id, true)
}

// Restore brings an archived node back.
func (s *Service) Restore(ctx context.Context, req Requester, id uuid.UUID) (node.Node, error) {
	return s.setArchived(ctx, req, id, false)
}

func (s *Service) setArchived(ctx context.Context, req Requester, id uuid.UUID, archived bool) (node.Node, error) {
	n, err := s.engine.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, n, req, policy.IntentSettings); err != nil {
		return nil, err
	}

	action := actionRestore
	if archived {
		n, err = s.engine.Archive(ctx, id)
		action = actionArchive
	} else {
		n, err = s.engine.Restore(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.record(ctx, req, action, n, "")
	return n, nil
}

// Delete removes a node and everything below it.
func (s *Service) Delete(ctx context.Context, req Requester, id uuid.UUID) error {
	n, err := s.engine.Resolve(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, n, req, policy.IntentDelete); err != nil {
		return err
	}
	if err := s.engine.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, req, actionDelete, n, n.Base().Name)
	return nil
}

// BulkItemResult is the outcome for one id of a bulk delete.
type BulkItemResult struct {
	ID  uuid.UUID
	Err error
}

// BulkDelete deletes up to 100 nodes, reporting each outcome separately.
func (s *Service) BulkDelete(ctx context.Context, req Requester, ids []uuid.UUID) ([]BulkItemResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no ids given", ErrInvalidInput)
	}
	if len(ids) > maxBulkDelete {
		return nil, fmt.Errorf("%w: at most %d items per request", ErrInvalidInput, maxBulkDelete)
	}

	results := make([]BulkItemResult, 0, len(ids))
	var failed int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		err := s.Delete(ctx, req, id)
		if err != nil {
			failed++
		}
		results = append(results, BulkItemResult{ID: id, Err: err})
	}

	slog.Info("bulk delete complete", "requested", len(ids), "failed", failed, "actor", req.actor())
	return results, nil
}

// FolderSettingsInput is a partial settings update. PIN nil leaves the PIN
// alone; an empty PIN removes it.
type FolderSettingsInput struct {
	Name                   *string
	AllowAnonymousView     *bool
	AllowAnonymousUpload   *bool
	AllowAnonymousDownload *bool
	ExpiresAt              *time.Time
	PIN                    *string
}

// UpdateFolderSettings changes a folder's name, anonymous permissions, expiry
// or PIN.
func (s *Service) UpdateFolderSettings(ctx context.Context, req Requester, id uuid.UUID, in FolderSettingsInput) (*node.Folder, error) {
	folder, err := s.engine.ResolveFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, folder, req, policy.IntentSettings); err != nil {
		return nil, err
	}

	settings := filesystem.FolderSettings{
		Name:                   in.Name,
		AllowAnonymousView:     in.AllowAnonymousView,
		AllowAnonymousUpload:   in.AllowAnonymousUpload,
		AllowAnonymousDownload: in.AllowAnonymousDownload,
		ExpiresAt:              in.ExpiresAt,
	}
	if in.PIN != nil {
		hash := ""
		if *in.PIN != "" {
			if hash, err = policy.HashPIN(*in.PIN); err != nil {
				return nil, err
			}
		}
		settings.PinHash = &hash
	}

	updated, err := s.engine.UpdateFolderSettings(ctx, id, settings)
	if err != nil {
		return nil, err
	}
	s.record(ctx, req, actionSettings, updated, "")
	return updated, nil
}

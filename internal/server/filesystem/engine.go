// Package filesystem implements the tree operations over the node store. It is
// the only writer of nodes: every create, move, archive and delete goes
// through the Engine so that blobs and rows stay consistent.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"securelink/internal/server/database"
	"securelink/internal/server/metrics"
	"securelink/internal/server/node"
	"securelink/internal/server/storage"
)

// ErrShareTokenTaken is returned by SetShare when another folder holds the token.
var ErrShareTokenTaken = errors.New("share token already in use")

// Store is the persistence the engine needs. *database.Repository satisfies it.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (node.Node, error)
	ChildrenOf(ctx context.Context, parentID *uuid.UUID, filter database.ChildFilter) ([]node.Node, error)
	Insert(ctx context.Context, n node.Node) error
	Update(ctx context.Context, n node.Node) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByShareToken(ctx context.Context, token string) (*node.Folder, error)
	MarkAccessed(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, owner, query string, limit int) ([]node.Node, error)
}

// Engine performs tree operations. It holds no locks; concurrent callers race
// at the store's per-row granularity and every walk is guarded by a visited set.
type Engine struct {
	store   Store
	backend storage.Backend
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates a new Engine. m may be nil.
func NewEngine(store Store, backend storage.Backend, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		backend: backend,
		metrics: m,
		now:     time.Now,
	}
}

// Resolve fetches a node by id.
func (e *Engine) Resolve(ctx context.Context, id uuid.UUID) (node.Node, error) {
	n, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	return n, nil
}

// ResolveFolder fetches a node and requires it to be a folder.
func (e *Engine) ResolveFolder(ctx context.Context, id uuid.UUID) (*node.Folder, error) {
	n, err := e.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	f, ok := n.(*node.Folder)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a folder", ErrInvalidOperation, id)
	}
	return f, nil
}

// ResolveShare returns the folder carrying a share token.
func (e *Engine) ResolveShare(ctx context.Context, token string) (*node.Folder, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty share token", ErrNotFound)
	}
	f, err := e.store.FindByShareToken(ctx, token)
	if err != nil {
		if errors.Is(err, database.ErrNodeNotFound) {
			return nil, fmt.Errorf("%w: share token", ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

// ListChildren returns the non-archived children of parentID (root level when
// nil), folders first then by name. A non-empty owner keeps only nodes of that
// owner, system nodes and anonymous files.
func (e *Engine) ListChildren(ctx context.Context, parentID *uuid.UUID, owner string) ([]node.Node, error) {
	return e.store.ChildrenOf(ctx, parentID, database.ChildFilter{Owner: owner})
}

// ComputeSize returns the size of a file, or the summed size of every
// non-archived file below a folder. A revisited node aborts the walk.
func (e *Engine) ComputeSize(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := e.Resolve(ctx, id)
	if err != nil {
		return 0, err
	}
	if f, ok := n.(*node.File); ok {
		return f.SizeBytes, nil
	}

	var total int64
	visited := map[uuid.UUID]bool{id: true}
	pending := []uuid.UUID{id}

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		children, err := e.ListChildren(ctx, &cur, "")
		if err != nil {
			return 0, fmt.Errorf("failed to list children of %s: %w", cur, err)
		}

		for _, child := range children {
			childID := child.Base().ID
			if visited[childID] {
				return 0, e.cycle(childID)
			}
			visited[childID] = true

			switch c := child.(type) {
			case *node.File:
				total += c.SizeBytes
			case *node.Folder:
				pending = append(pending, childID)
			}
		}
	}

	return total, nil
}

// Move re-parents a node. newParentID nil moves it to the root level. The
// destination must be a folder that is neither the node nor below it.
func (e *Engine) Move(ctx context.Context, id uuid.UUID, newParentID *uuid.UUID) (node.Node, error) {
	n, err := e.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	if newParentID != nil {
		if *newParentID == id {
			return nil, fmt.Errorf("%w: cannot move %s into itself", ErrInvalidOperation, id)
		}
		dest, err := e.ResolveFolder(ctx, *newParentID)
		if err != nil {
			return nil, err
		}
		if err := e.checkNotBelow(ctx, id, dest); err != nil {
			return nil, err
		}
	}

	n.Base().ParentID = newParentID
	if err := e.store.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to move node: %w", translate(err, id))
	}

	slog.Info("node moved", "id", id, "parent_id", newParentID)
	return n, nil
}

// checkNotBelow walks from dest towards the root and fails if it passes id.
func (e *Engine) checkNotBelow(ctx context.Context, id uuid.UUID, dest *node.Folder) error {
	visited := make(map[uuid.UUID]bool)
	var cur node.Node = dest

	for {
		curID := cur.Base().ID
		if curID == id {
			return fmt.Errorf("%w: cannot move %s into its own descendant", ErrInvalidOperation, id)
		}
		if visited[curID] {
			return e.cycle(curID)
		}
		visited[curID] = true

		parentID := cur.Base().ParentID
		if parentID == nil {
			return nil
		}
		next, err := e.store.Get(ctx, *parentID)
		if errors.Is(err, database.ErrNodeNotFound) {
			// Dangling parent pointer: the chain ends here.
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to walk ancestors: %w", err)
		}
		cur = next
	}
}

// Delete removes a node and, for folders, everything below it, archived or
// not. Blob removal is best effort: a storage failure is logged and the row
// is still removed. Deleting an absent node is a no-op.
func (e *Engine) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := e.DeleteTree(ctx, id)
	return err
}

// DeleteTree is Delete, reporting the ids of the rows it removed. Rows that
// disappeared concurrently are not reported.
func (e *Engine) DeleteTree(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	n, err := e.store.Get(ctx, id)
	if errors.Is(err, database.ErrNodeNotFound) {
		slog.Warn("attempted to delete non-existent node", "id", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node for deletion: %w", err)
	}

	var removed []uuid.UUID
	err = e.deleteTree(ctx, n, make(map[uuid.UUID]bool), &removed)
	return removed, err
}

func (e *Engine) deleteTree(ctx context.Context, n node.Node, visited map[uuid.UUID]bool, removed *[]uuid.UUID) error {
	id := n.Base().ID
	if visited[id] {
		return e.cycle(id)
	}
	visited[id] = true

	switch v := n.(type) {
	case *node.Folder:
		children, err := e.store.ChildrenOf(ctx, &id, database.ChildFilter{IncludeArchived: true})
		if err != nil {
			return fmt.Errorf("failed to list children of %s: %w", id, err)
		}
		for _, child := range children {
			if err := e.deleteTree(ctx, child, visited, removed); err != nil {
				slog.Error("failed to delete child node",
					"parent_id", id,
					"id", child.Base().ID,
					"error", err,
				)
			}
		}

	case *node.File:
		if err := e.backend.Delete(ctx, v.StorageRef); err != nil {
			e.metrics.RecordStorageFailure("delete")
			slog.Error("failed to delete blob from storage",
				"id", id,
				"storage_ref", v.StorageRef,
				"provider", v.ProviderName,
				"error", err,
			)
		}
	}

	if err := e.store.Delete(ctx, id); err != nil {
		if errors.Is(err, database.ErrNodeNotFound) {
			// Removed concurrently.
			return nil
		}
		return fmt.Errorf("failed to delete node: %w", translate(err, id))
	}
	*removed = append(*removed, id)

	e.metrics.RecordNodeDeleted(string(n.Kind()))
	slog.Info("node deleted", "id", id, "kind", n.Kind(), "name", n.Base().Name)
	return nil
}

// Archive hides a node from listings without touching its children.
func (e *Engine) Archive(ctx context.Context, id uuid.UUID) (node.Node, error) {
	return e.setArchived(ctx, id, true)
}

// Restore reverses Archive.
func (e *Engine) Restore(ctx context.Context, id uuid.UUID) (node.Node, error) {
	return e.setArchived(ctx, id, false)
}

func (e *Engine) setArchived(ctx context.Context, id uuid.UUID, archived bool) (node.Node, error) {
	n, err := e.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Base().IsArchived = archived
	if err := e.store.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to update node: %w", translate(err, id))
	}
	return n, nil
}

// PathTo returns the chain of nodes from the outermost reachable ancestor down
// to id. A parent pointer to a missing node ends the chain early.
func (e *Engine) PathTo(ctx context.Context, id uuid.UUID) ([]node.Node, error) {
	cur, err := e.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	path := []node.Node{cur}
	visited := map[uuid.UUID]bool{id: true}

	for cur.Base().ParentID != nil {
		parentID := *cur.Base().ParentID
		if visited[parentID] {
			return nil, e.cycle(parentID)
		}
		visited[parentID] = true

		parent, err := e.store.Get(ctx, parentID)
		if errors.Is(err, database.ErrNodeNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk path: %w", err)
		}
		path = append(path, parent)
		cur = parent
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// CreateFolder inserts a new folder. ID and CreatedAt are assigned when unset.
func (e *Engine) CreateFolder(ctx context.Context, f *node.Folder) (*node.Folder, error) {
	if err := e.prepare(ctx, &f.Header); err != nil {
		return nil, err
	}
	if err := e.store.Insert(ctx, f); err != nil {
		if errors.Is(err, database.ErrShareTokenTaken) {
			return nil, ErrShareTokenTaken
		}
		return nil, fmt.Errorf("failed to create folder: %w", translate(err, f.ID))
	}
	slog.Info("folder created", "id", f.ID, "name", f.Name, "owner", f.OwnerID)
	return f, nil
}

// CreateFile inserts a new file whose blob has already been stored under
// f.StorageRef.
func (e *Engine) CreateFile(ctx context.Context, f *node.File) (*node.File, error) {
	if f.StorageRef == "" {
		return nil, fmt.Errorf("%w: file has no storage reference", ErrInvalidOperation)
	}
	if err := e.prepare(ctx, &f.Header); err != nil {
		return nil, err
	}
	if err := e.store.Insert(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to create file: %w", translate(err, f.ID))
	}
	slog.Info("file created",
		"id", f.ID,
		"name", f.Name,
		"owner", f.OwnerID,
		"size", f.SizeBytes,
		"provider", f.ProviderName,
	)
	return f, nil
}

func (e *Engine) prepare(ctx context.Context, h *node.Header) error {
	if strings.TrimSpace(h.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidOperation)
	}
	if h.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", ErrInvalidOperation)
	}
	if h.ParentID != nil {
		if _, err := e.ResolveFolder(ctx, *h.ParentID); err != nil {
			return err
		}
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = e.now().UTC()
	}
	return nil
}

// FolderSettings is a partial update; nil fields are left unchanged.
type FolderSettings struct {
	Name                   *string
	AllowAnonymousView     *bool
	AllowAnonymousUpload   *bool
	AllowAnonymousDownload *bool
	ExpiresAt              *time.Time
	ClearExpiry            bool
	PinHash                *string // empty string clears the PIN
}

// UpdateFolderSettings applies s to a folder.
func (e *Engine) UpdateFolderSettings(ctx context.Context, id uuid.UUID, s FolderSettings) (*node.Folder, error) {
	f, err := e.ResolveFolder(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.Name != nil {
		if strings.TrimSpace(*s.Name) == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidOperation)
		}
		f.Name = *s.Name
	}
	if s.AllowAnonymousView != nil {
		f.AllowAnonymousView = *s.AllowAnonymousView
	}
	if s.AllowAnonymousUpload != nil {
		f.AllowAnonymousUpload = *s.AllowAnonymousUpload
	}
	if s.AllowAnonymousDownload != nil {
		f.AllowAnonymousDownload = *s.AllowAnonymousDownload
	}
	switch {
	case s.ClearExpiry:
		f.ExpiresAt = nil
	case s.ExpiresAt != nil:
		f.ExpiresAt = s.ExpiresAt
	}
	if s.PinHash != nil {
		if *s.PinHash == "" {
			f.PinHash = nil
		} else {
			f.PinHash = s.PinHash
		}
	}

	if err := e.store.Update(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to update folder settings: %w", translate(err, id))
	}
	return f, nil
}

// SharePermissions are granted to holders of a folder's share token.
type SharePermissions struct {
	AllowView     bool
	AllowUpload   bool
	AllowDownload bool
	ExpiresAt     *time.Time
}

// SetShare puts token on a folder together with the anonymous permissions.
// A token held by another folder yields ErrShareTokenTaken.
func (e *Engine) SetShare(ctx context.Context, id uuid.UUID, token string, p SharePermissions) (*node.Folder, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty share token", ErrInvalidOperation)
	}
	f, err := e.ResolveFolder(ctx, id)
	if err != nil {
		return nil, err
	}

	f.ShareToken = &token
	f.AllowAnonymousView = p.AllowView
	f.AllowAnonymousUpload = p.AllowUpload
	f.AllowAnonymousDownload = p.AllowDownload
	if p.ExpiresAt != nil {
		f.ExpiresAt = p.ExpiresAt
	}

	if err := e.store.Update(ctx, f); err != nil {
		if errors.Is(err, database.ErrShareTokenTaken) {
			return nil, ErrShareTokenTaken
		}
		return nil, fmt.Errorf("failed to share folder: %w", translate(err, id))
	}
	slog.Info("folder shared", "id", id, "view", p.AllowView, "upload", p.AllowUpload, "download", p.AllowDownload)
	return f, nil
}

// RevokeShare removes a folder's token and every anonymous permission.
func (e *Engine) RevokeShare(ctx context.Context, id uuid.UUID) (*node.Folder, error) {
	f, err := e.ResolveFolder(ctx, id)
	if err != nil {
		return nil, err
	}

	f.ShareToken = nil
	f.AllowAnonymousView = false
	f.AllowAnonymousUpload = false
	f.AllowAnonymousDownload = false

	if err := e.store.Update(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to revoke share: %w", translate(err, id))
	}
	slog.Info("folder share revoked", "id", id)
	return f, nil
}

// MarkAccessed records a completed download of a file.
func (e *Engine) MarkAccessed(ctx context.Context, id uuid.UUID) error {
	if err := e.store.MarkAccessed(ctx, id); err != nil {
		return translate(err, id)
	}
	return nil
}

// Search finds the owner's non-archived nodes whose name contains query.
func (e *Engine) Search(ctx context.Context, owner, query string, limit int) ([]node.Node, error) {
	return e.store.Search(ctx, owner, query, limit)
}

func (e *Engine) cycle(id uuid.UUID) error {
	e.metrics.RecordCycle()
	slog.Error("cycle detected in node tree", "id", id)
	return fmt.Errorf("%w: cycle detected at node %s", ErrInvalidOperation, id)
}

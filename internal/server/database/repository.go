package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"securelink/internal/server/node"
)

var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrHasChildren     = errors.New("node still has children")
	ErrShareTokenTaken = errors.New("share token already in use")
	ErrStorageRefTaken = errors.New("storage reference already owned by another node")
)

// ChildFilter narrows a children listing.
type ChildFilter struct {
	// Owner, when set, keeps children owned by Owner or by "system", plus
	// files owned by "anonymous". Anonymous folders are not listed.
	Owner string

	// IncludeArchived lists archived children too. Listings leave it unset;
	// recursive deletion sets it so nothing is orphaned.
	IncludeArchived bool
}

// Repository persists nodes, one row per node.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Get retrieves a node by its ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (node.Node, error) {
	n, err := scanNode(r.db.conn.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return n, nil
}

// ChildrenOf returns the direct children of parentID (root-level nodes when
// nil), folders first and then by name.
func (r *Repository) ChildrenOf(ctx context.Context, parentID *uuid.UUID, filter ChildFilter) ([]node.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE `
	var args []any

	if parentID == nil {
		query += `parent_id IS NULL`
	} else {
		query += `parent_id = ?`
		args = append(args, *parentID)
	}

	if !filter.IncludeArchived {
		query += ` AND is_archived = ?`
		args = append(args, false)
	}

	if filter.Owner != "" {
		query += ` AND (owner_id = ? OR owner_id = ? OR (kind = ? AND owner_id = ?))`
		args = append(args, filter.Owner, node.OwnerSystem, string(node.KindFile), node.OwnerAnonymous)
	}

	nodes, err := r.queryNodes(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	node.SortListing(nodes)
	return nodes, nil
}

// Insert stores a new node.
func (r *Repository) Insert(ctx context.Context, n node.Node) error {
	_, err := r.db.conn.Exec(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nodeArgs(n)...)
	if err != nil {
		return r.writeError("insert", err)
	}
	return nil
}

// Update writes the mutable columns of an existing node. Kind, owner,
// creation time and file content are fixed at insert, and is_accessed is only
// ever set by MarkAccessed. A node deleted since it was read is not recreated:
// ErrNodeNotFound is returned instead.
func (r *Repository) Update(ctx context.Context, n node.Node) error {
	affected, err := r.db.conn.Exec(ctx, `
		UPDATE nodes SET
			name                     = ?,
			parent_id                = ?,
			expires_at               = ?,
			is_archived              = ?,
			pin_hash                 = ?,
			allow_anonymous_view     = ?,
			allow_anonymous_download = ?,
			allow_anonymous_upload   = ?,
			share_token              = ?
		WHERE id = ?
	`, mutableArgs(n)...)
	if err != nil {
		return r.writeError("update", err)
	}
	if affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

func (r *Repository) writeError(op string, err error) error {
	switch {
	case r.db.conn.uniqueViolation(err, "share_token"):
		return ErrShareTokenTaken
	case r.db.conn.uniqueViolation(err, "storage_ref"):
		return ErrStorageRefTaken
	}
	return fmt.Errorf("failed to %s node: %w", op, err)
}

// Delete removes a single node row. A node that still has children is left in
// place and ErrHasChildren is returned; the check and the delete are one
// statement.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	affected, err := r.db.conn.Exec(ctx, `
		DELETE FROM nodes
		WHERE id = ? AND NOT EXISTS (SELECT 1 FROM nodes child WHERE child.parent_id = ?)
	`, id, id)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var count int
	if err := r.db.conn.QueryRow(ctx, `SELECT COUNT(*) FROM nodes WHERE id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to check node existence: %w", err)
	}
	if count > 0 {
		return ErrHasChildren
	}
	return ErrNodeNotFound
}

// FindByShareToken returns the folder carrying token.
func (r *Repository) FindByShareToken(ctx context.Context, token string) (*node.Folder, error) {
	n, err := scanNode(r.db.conn.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE kind = ? AND share_token = ?`,
		string(node.KindFolder), token))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("failed to find share token: %w", err)
	}
	return n.(*node.Folder), nil
}

// FindExpired returns every node, file or folder, whose expiry is before now.
func (r *Repository) FindExpired(ctx context.Context, now time.Time) ([]node.Node, error) {
	nodes, err := r.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE expires_at IS NOT NULL AND expires_at < ?`,
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired nodes: %w", err)
	}
	return nodes, nil
}

// FindBurnedAccessed returns burn-after-download files that have been downloaded.
func (r *Repository) FindBurnedAccessed(ctx context.Context) ([]*node.File, error) {
	nodes, err := r.queryNodes(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE kind = ? AND burn_after_download = ? AND is_accessed = ?`,
		string(node.KindFile), true, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query burned files: %w", err)
	}

	files := make([]*node.File, 0, len(nodes))
	for _, n := range nodes {
		files = append(files, n.(*node.File))
	}
	return files, nil
}

// MarkAccessed atomically flags a file as downloaded.
func (r *Repository) MarkAccessed(ctx context.Context, id uuid.UUID) error {
	affected, err := r.db.conn.Exec(ctx,
		`UPDATE nodes SET is_accessed = ? WHERE id = ? AND kind = ?`,
		true, id, string(node.KindFile))
	if err != nil {
		return fmt.Errorf("failed to mark node accessed: %w", err)
	}
	if affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// Search finds non-archived nodes of owner whose name contains query,
// case-insensitively. LIKE wildcards in query match literally.
func (r *Repository) Search(ctx context.Context, owner, query string, limit int) ([]node.Node, error) {
	nodes, err := r.queryNodes(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE owner_id = ? AND is_archived = ? AND LOWER(name) LIKE LOWER(?) ESCAPE '\'
		ORDER BY name
		LIMIT ?
	`, owner, false, "%"+likeEscaper.Replace(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search nodes: %w", err)
	}
	node.SortListing(nodes)
	return nodes, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *Repository) queryNodes(ctx context.Context, query string, args ...any) ([]node.Node, error) {
	rs, err := r.db.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var nodes []node.Node
	for rs.Next() {
		n, err := scanNode(rs)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rs.Err()
}

// GetStats returns aggregate tree statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.conn.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_archived = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(size_bytes), 0)
		FROM nodes
	`, string(node.KindFile), string(node.KindFolder), true).Scan(
		&stats.TotalFiles,
		&stats.TotalFolders,
		&stats.ArchivedNodes,
		&stats.StorageUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

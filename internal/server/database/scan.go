package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"securelink/internal/server/node"
)

const nodeColumns = `id, kind, name, owner_id, parent_id, created_at, expires_at, is_archived, pin_hash,
	allow_anonymous_view, allow_anonymous_download, content_type, size_bytes, storage_ref,
	provider_name, burn_after_download, is_accessed, allow_anonymous_upload, share_token`

// nodeRow mirrors one row of the nodes table. Kind-specific columns are NULL
// for the other kind.
type nodeRow struct {
	ID                     uuid.UUID
	Kind                   string
	Name                   string
	OwnerID                string
	ParentID               *uuid.UUID
	CreatedAt              timestamp
	ExpiresAt              timestamp
	IsArchived             bool
	PinHash                *string
	AllowAnonymousView     bool
	AllowAnonymousDownload bool
	ContentType            *string
	SizeBytes              *int64
	StorageRef             *string
	ProviderName           *string
	BurnAfterDownload      bool
	IsAccessed             bool
	AllowAnonymousUpload   bool
	ShareToken             *string
}

func scanNode(r row) (node.Node, error) {
	var nr nodeRow
	if err := r.Scan(
		&nr.ID,
		&nr.Kind,
		&nr.Name,
		&nr.OwnerID,
		&nr.ParentID,
		&nr.CreatedAt,
		&nr.ExpiresAt,
		&nr.IsArchived,
		&nr.PinHash,
		&nr.AllowAnonymousView,
		&nr.AllowAnonymousDownload,
		&nr.ContentType,
		&nr.SizeBytes,
		&nr.StorageRef,
		&nr.ProviderName,
		&nr.BurnAfterDownload,
		&nr.IsAccessed,
		&nr.AllowAnonymousUpload,
		&nr.ShareToken,
	); err != nil {
		return nil, err
	}
	return nr.toNode()
}

func (nr *nodeRow) toNode() (node.Node, error) {
	h := node.Header{
		ID:                     nr.ID,
		Name:                   nr.Name,
		OwnerID:                nr.OwnerID,
		ParentID:               nr.ParentID,
		ExpiresAt:              nr.ExpiresAt.ptr(),
		IsArchived:             nr.IsArchived,
		PinHash:                nr.PinHash,
		AllowAnonymousView:     nr.AllowAnonymousView,
		AllowAnonymousDownload: nr.AllowAnonymousDownload,
	}
	if c := nr.CreatedAt.ptr(); c != nil {
		h.CreatedAt = *c
	}

	switch node.Kind(nr.Kind) {
	case node.KindFile:
		return &node.File{
			Header:            h,
			ContentType:       deref(nr.ContentType),
			SizeBytes:         derefInt(nr.SizeBytes),
			StorageRef:        deref(nr.StorageRef),
			ProviderName:      deref(nr.ProviderName),
			BurnAfterDownload: nr.BurnAfterDownload,
			IsAccessed:        nr.IsAccessed,
		}, nil
	case node.KindFolder:
		return &node.Folder{
			Header:               h,
			AllowAnonymousUpload: nr.AllowAnonymousUpload,
			ShareToken:           nr.ShareToken,
		}, nil
	}
	return nil, fmt.Errorf("unknown node kind %q for %s", nr.Kind, nr.ID)
}

// nodeArgs returns the column values of n in nodeColumns order.
func nodeArgs(n node.Node) []any {
	h := n.Base()
	args := []any{
		h.ID, string(n.Kind()), h.Name, h.OwnerID, h.ParentID, h.CreatedAt.UTC(), utcPtr(h.ExpiresAt),
		h.IsArchived, h.PinHash, h.AllowAnonymousView, h.AllowAnonymousDownload,
	}
	switch v := n.(type) {
	case *node.File:
		args = append(args,
			v.ContentType, v.SizeBytes, v.StorageRef, v.ProviderName,
			v.BurnAfterDownload, v.IsAccessed, false, nil,
		)
	case *node.Folder:
		args = append(args,
			nil, nil, nil, nil,
			false, false, v.AllowAnonymousUpload, v.ShareToken,
		)
	}
	return args
}

// mutableArgs lists the values for updateColumns followed by the id.
func mutableArgs(n node.Node) []any {
	h := n.Base()
	var (
		allowUpload bool
		shareToken  *string
	)
	if f, ok := n.(*node.Folder); ok {
		allowUpload, shareToken = f.AllowAnonymousUpload, f.ShareToken
	}
	return []any{
		h.Name, h.ParentID, utcPtr(h.ExpiresAt), h.IsArchived, h.PinHash,
		h.AllowAnonymousView, h.AllowAnonymousDownload, allowUpload, shareToken,
		h.ID,
	}
}

// timestamp scans a nullable timestamp from either driver: pgx yields
// time.Time, SQLite yields text in sqliteTimeLayout.
type timestamp struct {
	t     time.Time
	valid bool
}

func (ts *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.valid = false
		return nil
	case time.Time:
		ts.t, ts.valid = v.UTC(), true
		return nil
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into timestamp", src)
}

func (ts *timestamp) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	ts.t, ts.valid = t.UTC(), true
	return nil
}

func (ts timestamp) ptr() *time.Time {
	if !ts.valid {
		return nil
	}
	t := ts.t
	return &t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}

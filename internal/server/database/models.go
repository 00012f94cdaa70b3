package database

import (
	"time"

	"github.com/google/uuid"
)

// Stats holds aggregate tree statistics.
type Stats struct {
	TotalFiles    int64
	TotalFolders  int64
	ArchivedNodes int64
	StorageUsed   int64
}

// AuditEntry is one recorded action.
type AuditEntry struct {
	ID         string
	UserID     string
	Action     string
	EntityType string
	EntityID   string
	Details    *string
	CreatedAt  time.Time
}

// Snippet is a short text note, optionally expiring or burned after one read.
type Snippet struct {
	ID            uuid.UUID
	Title         string
	Content       string
	OwnerID       string
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	BurnAfterRead bool
}

// Expired reports whether the snippet's expiry is before now.
func (s *Snippet) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

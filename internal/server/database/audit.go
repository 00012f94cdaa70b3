package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRepository stores audit log entries next to the tree.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record inserts one audit entry. details may be empty.
func (r *AuditRepository) Record(ctx context.Context, actorID, action, entityType, entityID, details string) error {
	var d *string
	if details != "" {
		d = &details
	}
	_, err := r.db.conn.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, entity_type, entity_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.New(), actorID, action, entityType, entityID, d, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// EntityLogs returns the most recent entries for one entity, newest first.
func (r *AuditRepository) EntityLogs(ctx context.Context, entityType, entityID string, limit int) ([]*AuditEntry, error) {
	rs, err := r.db.conn.Query(ctx, `
		SELECT id, user_id, action, entity_type, entity_id, details, created_at
		FROM audit_logs
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rs.Close()

	var entries []*AuditEntry
	for rs.Next() {
		var (
			e       AuditEntry
			id      uuid.UUID
			created timestamp
		)
		if err := rs.Scan(&id, &e.UserID, &e.Action, &e.EntityType, &e.EntityID, &e.Details, &created); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.ID = id.String()
		e.CreatedAt = created.t
		entries = append(entries, &e)
	}
	return entries, rs.Err()
}

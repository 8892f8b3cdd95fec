package store

import (
	"context"
	"fmt"

	"medprice-service/internal/models"
)

const auditColumns = `id, event_id, user_ref, action, entity, entity_id, changes, metadata, timestamp`

// InsertAuditLog appends an entry. Replays of the same event id are ignored and reported as false.
func (s *Store) InsertAuditLog(ctx context.Context, entry *models.AuditLog) (bool, error) {
	if entry.RawChanges == nil {
		if err := entry.EncodeChanges(); err != nil {
			return false, err
		}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (event_id, user_ref, action, entity, entity_id, changes, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_id) DO NOTHING`,
		entry.EventID, entry.User, entry.Action, entry.Entity, entry.EntityID, entry.RawChanges, entry.Metadata, entry.Timestamp)
	if err != nil {
		return false, fmt.Errorf("failed to insert audit log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AuditFilter narrows the audit listing
type AuditFilter struct {
	Action string
	User   string
	Entity string
	Limit  int
	Offset int
}

// ListAuditLogs returns entries newest first with the unpaged total.
// Entries whose payload no longer decodes keep a nil Changes.
func (s *Store) ListAuditLogs(ctx context.Context, f AuditFilter) ([]models.AuditLog, int64, error) {
	where := " WHERE TRUE"
	var args []interface{}
	if f.Action != "" {
		args = append(args, f.Action)
		where += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if f.User != "" {
		args = append(args, f.User)
		where += fmt.Sprintf(" AND user_ref = $%d", len(args))
	}
	if f.Entity != "" {
		args = append(args, f.Entity)
		where += fmt.Sprintf(" AND entity = $%d", len(args))
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM audit_logs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := "SELECT " + auditColumns + " FROM audit_logs" + where +
		fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	entries := []models.AuditLog{}
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	for i := range entries {
		_ = entries[i].DecodeChanges()
	}
	return entries, total, nil
}

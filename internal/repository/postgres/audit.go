package postgres

import (
	"context"

	"github.com/Its-darshu/DarkSphere-sub000/internal/domain"
)

// AppendAudit inserts an immutable audit record. There is no update or
// delete path for audit rows anywhere in the codebase.
func (r *Repository) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	const query = `INSERT INTO audit_log (id, actor_id, action, target_type, target_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	details := entry.Details
	if len(details) == 0 {
		details = []byte("{}")
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx, query, entry.ID, entry.ActorID, entry.Action, entry.TargetType, entry.TargetID, details, entry.CreatedAt)
	return err
}

// ListAudits returns audit records newest first.
func (r *Repository) ListAudits(ctx context.Context, limit, offset int) ([]domain.AuditEntry, error) {
	const query = `SELECT id, actor_id, action, target_type, target_id, details, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var entries []domain.AuditEntry
	err := r.withReadRetry(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, query, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		entries = entries[:0]
		for rows.Next() {
			var e domain.AuditEntry
			if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &e.Details, &e.CreatedAt); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

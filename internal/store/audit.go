package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentflow/orchestrator/internal/apperr"
	"github.com/agentflow/orchestrator/internal/models"
)

// RecordAuditLog appends one immutable audit entry. Callers are
// expected to have already masked any sensitive content in Details
// (see internal/observability's masking pass).
func (s *Store) RecordAuditLog(ctx context.Context, a *models.AuditLog) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	detailsJSON, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	now := nowRFC3339()
	if a.Timestamp.IsZero() {
		a.Timestamp, _ = parseTime(now)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, ts, actor, actor_type, action, resource_type, resource_id, details, ip, ua, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, now, a.Actor, a.ActorType, a.Action, a.ResourceType, a.ResourceID, string(detailsJSON), a.IP, a.UserAgent, a.Success, nullableStr(a.Error),
	)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "insert audit log", err)
	}
	return nil
}

// ListAuditLogsByResource returns the audit trail for one resource,
// newest first.
func (s *Store) ListAuditLogsByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]models.AuditLog, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, ts, actor, actor_type, action, resource_type, resource_id, details, ip, ua, success, error
		FROM audit_logs WHERE resource_type = ? AND resource_id = ? ORDER BY ts DESC LIMIT ?`,
		resourceType, resourceID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "select audit logs", err)
	}
	defer rows.Close()
	var out []models.AuditLog
	for rows.Next() {
		var a models.AuditLog
		var ts, detailsJSON, actorType string
		var errStr sql.NullString
		if err := rows.Scan(&a.ID, &ts, &a.Actor, &actorType, &a.Action, &a.ResourceType, &a.ResourceID, &detailsJSON, &a.IP, &a.UserAgent, &a.Success, &errStr); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		a.ActorType = models.AuditActorType(actorType)
		if err := json.Unmarshal([]byte(detailsJSON), &a.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if errStr.Valid {
			a.Error = &errStr.String
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

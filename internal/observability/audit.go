package observability

import (
	"context"

	"github.com/agentflow/orchestrator/internal/models"
	"github.com/agentflow/orchestrator/internal/store"
)

// Auditor records audit log entries with their Details masked first,
// fulfilling the contract store.RecordAuditLog's doc comment already
// states ("callers are expected to have already masked any sensitive
// content").
type Auditor struct {
	store    *store.Store
	redactor *Redactor
}

// NewAuditor builds an Auditor over s using the default builtin
// redactor.
func NewAuditor(s *store.Store) *Auditor {
	return &Auditor{store: s, redactor: NewRedactor()}
}

// Record masks entry.Details and persists it.
func (a *Auditor) Record(ctx context.Context, entry models.AuditLog) error {
	entry.Details = a.redactor.RedactDetails(entry.Details)
	return a.store.RecordAuditLog(ctx, &entry)
}

// History returns the masked audit trail for one resource, newest
// first. Details are already masked at write time, so this is a plain
// passthrough to the store.
func (a *Auditor) History(ctx context.Context, resourceType, resourceID string, limit int) ([]models.AuditLog, error) {
	return a.store.ListAuditLogsByResource(ctx, resourceType, resourceID, limit)
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/ireporter/internal/models"
)

const insertAuditEntry = `INSERT INTO audit_logs (id, actor_id, action, subject, subject_id, details, ip_address, user_agent, created_at)
VALUES (:id, :actor_id, :action, :subject, :subject_id, :details, :ip_address, :user_agent, :created_at)`

// AuditRepository appends to the audit trail. Rows are never updated.
type AuditRepository struct {
	db *sqlx.DB
}

func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append stores entry, filling in its id and timestamp when unset.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Details) == 0 {
		entry.Details = []byte("{}")
	}
	if _, err := r.db.NamedExecContext(ctx, insertAuditEntry, entry); err != nil {
		return fmt.Errorf("append audit entry %s: %w", entry.Action, err)
	}
	return nil
}

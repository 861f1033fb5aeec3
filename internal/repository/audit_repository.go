package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-assistant-api/internal/models"
)

// AuditRepository appends assistant audit rows. It has no update or delete path.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// The legacy question and queries columns are deliberately absent from this statement.
const insertAuditQuery = `INSERT INTO ai_audit_logs (id, school_id, user_id, role, agent_key, correlation_id, status, document_ids, documents_count, flagged, flag_reason, created_at, updated_at) VALUES (:id, :school_id, :user_id, :role, :agent_key, :correlation_id, :status, :document_ids, :documents_count, :flagged, :flag_reason, :created_at, :updated_at)`

// Create inserts a new audit row.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = entry.CreatedAt
	if entry.DocumentIDs == nil {
		entry.DocumentIDs = models.StringList{}
	}

	if _, err := r.db.NamedExecContext(ctx, insertAuditQuery, entry); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// AuditStatus is the outcome recorded for an assistant request.
type AuditStatus string

const (
	AuditStatusOK          AuditStatus = "ok"
	AuditStatusRateLimited AuditStatus = "rate_limited"
	AuditStatusError       AuditStatus = "error"
)

// Flag reasons recorded alongside flagged audit entries.
const (
	FlagResolverDegraded = "resolver_degraded"
	FlagNoDocuments      = "no_documents"
	FlagScopeViolation   = "scope_violation"
	FlagComposerFallback = "composer_fallback"
	FlagComposerError    = "composer_error"
	FlagCounterStore     = "rate_limit_store_unavailable"
	FlagInvalidQuestion  = "invalid_question"
)

// StringList stores an ordered list of strings in a JSON column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(l))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(l))
	default:
		return errors.New("unsupported document_ids type")
	}
}

// AuditLogEntry is one append-only row of ai_audit_logs. The table may still
// carry legacy question/queries columns; this type has no field for them.
type AuditLogEntry struct {
	ID             string      `db:"id" json:"id"`
	SchoolID       *string     `db:"school_id" json:"school_id,omitempty"`
	UserID         *string     `db:"user_id" json:"user_id,omitempty"`
	Role           string      `db:"role" json:"role"`
	AgentKey       string      `db:"agent_key" json:"agent_key"`
	CorrelationID  string      `db:"correlation_id" json:"correlation_id"`
	Status         AuditStatus `db:"status" json:"status"`
	DocumentIDs    StringList  `db:"document_ids" json:"document_ids"`
	DocumentsCount int         `db:"documents_count" json:"documents_count"`
	Flagged        bool        `db:"flagged" json:"flagged"`
	FlagReason     *string     `db:"flag_reason" json:"flag_reason,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-assistant-api/internal/models"
)

const (
	auditSinkDatabase = "database"
	auditSinkMirror   = "mirror"
)

type auditStore interface {
	Create(ctx context.Context, entry *models.AuditLogEntry) error
}

type auditMirror interface {
	Append(entry *models.AuditLogEntry) error
}

// AuditRecord is everything the audit trail keeps about one request. It has no
// field for the question or any query text.
type AuditRecord struct {
	CorrelationID string
	Context       models.RequestContext
	Status        models.AuditStatus
	DocumentIDs   []string
	Flagged       bool
	FlagReason    string
}

// AuditService writes one append-only row per assistant request.
type AuditService struct {
	agentKey string
	store    auditStore
	mirror   auditMirror
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewAuditService constructs an AuditService. mirror may be nil.
func NewAuditService(agentKey string, store auditStore, mirror auditMirror, metrics *MetricsService, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{agentKey: agentKey, store: store, mirror: mirror, metrics: metrics, logger: logger}
}

// Record persists rec. The write survives cancellation of ctx. Failures are logged
// and counted; the returned error is informational only.
func (s *AuditService) Record(ctx context.Context, rec AuditRecord) error {
	ctx = context.WithoutCancel(ctx)
	entry := s.entryFor(rec)

	var firstErr error
	if err := s.store.Create(ctx, entry); err != nil {
		firstErr = err
		s.metrics.RecordAuditWriteFailure(auditSinkDatabase)
		s.logger.Error("audit write failed",
			zap.String("sink", auditSinkDatabase),
			zap.String("correlation_id", rec.CorrelationID),
			zap.Error(err),
		)
	}

	if s.mirror != nil {
		if err := s.mirror.Append(entry); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.metrics.RecordAuditWriteFailure(auditSinkMirror)
			s.logger.Error("audit write failed",
				zap.String("sink", auditSinkMirror),
				zap.String("correlation_id", rec.CorrelationID),
				zap.Error(err),
			)
		}
	}
	return firstErr
}

func (s *AuditService) entryFor(rec AuditRecord) *models.AuditLogEntry {
	ids := make(models.StringList, len(rec.DocumentIDs))
	copy(ids, rec.DocumentIDs)

	now := time.Now().UTC()
	entry := &models.AuditLogEntry{
		ID:             uuid.NewString(),
		SchoolID:       optionalString(rec.Context.SchoolID()),
		UserID:         optionalString(rec.Context.UserID()),
		Role:           string(rec.Context.Role()),
		AgentKey:       s.agentKey,
		CorrelationID:  rec.CorrelationID,
		Status:         rec.Status,
		DocumentIDs:    ids,
		DocumentsCount: len(ids),
		Flagged:        rec.Flagged,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rec.Flagged {
		entry.FlagReason = optionalString(rec.FlagReason)
	}
	return entry
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-assistant-api/internal/models"
)

type captureAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLogEntry
	ctxErrs []error
	err     error
}

func (s *captureAuditStore) Create(ctx context.Context, entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *captureAuditStore) all() []models.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

type captureMirror struct {
	entries []models.AuditLogEntry
	err     error
}

func (m *captureMirror) Append(entry *models.AuditLogEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func TestAuditServiceRecordsEntry(t *testing.T) {
	store := &captureAuditStore{}
	mirror := &captureMirror{}
	svc := NewAuditService("school-assistant", store, mirror, nil, nil)
	rc := models.NewRequestContext(models.RoleTeacher, "teacher-a", "school-1")

	err := svc.Record(context.Background(), AuditRecord{
		CorrelationID: "corr-1",
		Context:       rc,
		Status:        models.AuditStatusOK,
		DocumentIDs:   []string{"class_summary:class-a:school-1:teacher"},
	})
	require.NoError(t, err)

	entries := store.all()
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "school-1", *entry.SchoolID)
	assert.Equal(t, "teacher-a", *entry.UserID)
	assert.Equal(t, "TEACHER", entry.Role)
	assert.Equal(t, "school-assistant", entry.AgentKey)
	assert.Equal(t, "corr-1", entry.CorrelationID)
	assert.Equal(t, 1, entry.DocumentsCount)
	assert.False(t, entry.Flagged)
	assert.Nil(t, entry.FlagReason)

	require.Len(t, mirror.entries, 1)
	assert.Equal(t, entry.ID, mirror.entries[0].ID)
}

func TestAuditServiceEntryCarriesNoQuestion(t *testing.T) {
	store := &captureAuditStore{}
	svc := NewAuditService("school-assistant", store, nil, nil, nil)

	require.NoError(t, svc.Record(context.Background(), AuditRecord{
		CorrelationID: "corr-1",
		Context:       models.NewRequestContext(models.RoleStudent, "student-1", "school-1"),
		Status:        models.AuditStatusOK,
	}))

	raw, err := json.Marshal(store.all()[0])
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "question")
	assert.NotContains(t, fields, "queries")
}

func TestAuditServiceWritesAfterCancellation(t *testing.T) {
	store := &captureAuditStore{}
	svc := NewAuditService("school-assistant", store, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, svc.Record(ctx, AuditRecord{
		CorrelationID: "corr-1",
		Context:       models.NewRequestContext(models.RoleAdmin, "admin-1", "school-1"),
		Status:        models.AuditStatusRateLimited,
	}))
	require.Len(t, store.ctxErrs, 1)
	assert.NoError(t, store.ctxErrs[0])
}

func TestAuditServiceFailureIsCounted(t *testing.T) {
	store := &captureAuditStore{err: errors.New("db down")}
	mirror := &captureMirror{}
	metrics := NewMetricsService()
	svc := NewAuditService("school-assistant", store, mirror, metrics, nil)

	err := svc.Record(context.Background(), AuditRecord{
		CorrelationID: "corr-1",
		Context:       models.NewRequestContext(models.RoleAdmin, "admin-1", "school-1"),
		Status:        models.AuditStatusError,
		Flagged:       true,
		FlagReason:    models.FlagCounterStore,
	})
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.auditWriteFailures.WithLabelValues(auditSinkDatabase)))
	require.Len(t, mirror.entries, 1)
	require.NotNil(t, mirror.entries[0].FlagReason)
	assert.Equal(t, models.FlagCounterStore, *mirror.entries[0].FlagReason)
}

func TestAuditServiceMirrorFailureIsCounted(t *testing.T) {
	store := &captureAuditStore{}
	mirror := &captureMirror{err: errors.New("write audit mirror: disk full")}
	metrics := NewMetricsService()
	svc := NewAuditService("school-assistant", store, mirror, metrics, nil)

	err := svc.Record(context.Background(), AuditRecord{
		CorrelationID: "corr-1",
		Context:       models.NewRequestContext(models.RoleTeacher, "teacher-a", "school-1"),
		Status:        models.AuditStatusOK,
	})
	require.Error(t, err)
	assert.Len(t, store.all(), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.auditWriteFailures.WithLabelValues(auditSinkMirror)))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.auditWriteFailures.WithLabelValues(auditSinkDatabase)))
}

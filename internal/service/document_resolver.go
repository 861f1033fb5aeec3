package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-assistant-api/internal/models"
	appErrors "github.com/noah-isme/sma-assistant-api/pkg/errors"
)

const (
	defaultPassingGrade  = 10.0
	defaultFinanceMonths = 6
)

type assistantRepository interface {
	SchoolOverview(ctx context.Context, rc models.RequestContext) (*models.SchoolOverview, error)
	FinanceByMonth(ctx context.Context, rc models.RequestContext, months int) ([]models.FinanceMonth, error)
	PaymentStatusCounts(ctx context.Context, rc models.RequestContext) ([]models.PaymentStatusCount, error)
	TeacherClassSummaries(ctx context.Context, rc models.RequestContext, passingGrade float64) ([]models.ClassSummary, error)
	StudentSummary(ctx context.Context, rc models.RequestContext) (*models.StudentSummary, []models.TimetableSlot, error)
	ParentChildren(ctx context.Context, rc models.RequestContext) ([]models.ChildSummary, error)
}

// ResolverConfig tunes the per-role strategies.
type ResolverConfig struct {
	PassingGrade  float64
	FinanceMonths int
}

// ResolveResult is the fixed document set for one request.
type ResolveResult struct {
	Documents       []models.Document
	Degraded        bool
	Reason          string
	Expected        bool
	ScopeViolations int
}

type resolveStrategy func(ctx context.Context, rc models.RequestContext) ([]models.Document, error)

// DocumentResolver computes the facts a request context may see.
type DocumentResolver struct {
	repo       assistantRepository
	config     ResolverConfig
	strategies map[models.UserRole]resolveStrategy
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// NewDocumentResolver constructs a resolver with one strategy per role.
func NewDocumentResolver(repo assistantRepository, cfg ResolverConfig, metrics *MetricsService, logger *zap.Logger) (*DocumentResolver, error) {
	if cfg.PassingGrade <= 0 {
		cfg.PassingGrade = defaultPassingGrade
	}
	if cfg.FinanceMonths <= 0 {
		cfg.FinanceMonths = defaultFinanceMonths
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &DocumentResolver{repo: repo, config: cfg, metrics: metrics, logger: logger, now: time.Now}
	r.strategies = map[models.UserRole]resolveStrategy{
		models.RoleAdmin:      r.resolveAdmin,
		models.RoleAccountant: r.resolveAccountant,
		models.RoleTeacher:    r.resolveTeacher,
		models.RoleStudent:    r.resolveStudent,
		models.RoleParent:     r.resolveParent,
	}
	if err := validateStrategies(r.strategies); err != nil {
		return nil, err
	}
	return r, nil
}

func validateStrategies(strategies map[models.UserRole]resolveStrategy) error {
	var missing []string
	for _, role := range models.AllRoles() {
		if strategies[role] == nil {
			missing = append(missing, string(role))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("document resolver: no strategy for roles %s", strings.Join(missing, ", "))
	}
	return nil
}

// Resolve returns the documents visible to rc. The question is not used to build
// any filter. Data layer failures degrade to an empty set instead of an error.
func (r *DocumentResolver) Resolve(ctx context.Context, rc models.RequestContext, question string) (ResolveResult, error) {
	if rc.IsZero() || rc.SchoolID() == "" || rc.UserID() == "" {
		return ResolveResult{}, appErrors.Clone(appErrors.ErrContext, "request context is not bound")
	}
	strategy, ok := r.strategies[rc.Role()]
	if !ok {
		return ResolveResult{}, appErrors.Clone(appErrors.ErrContext, "unsupported role")
	}

	start := time.Now()
	docs, err := strategy(ctx, rc)
	result := ResolveResult{Expected: true}
	if err != nil {
		r.logger.Warn("document resolution degraded",
			zap.String("role", string(rc.Role())),
			zap.String("school_id", rc.SchoolID()),
			zap.Error(err),
		)
		result.Degraded = true
		result.Reason = models.FlagResolverDegraded
		docs = nil
	}

	kept := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.SchoolID != rc.SchoolID() {
			result.ScopeViolations++
			r.logger.Error("document outside caller school dropped",
				zap.String("doc_id", doc.ID),
				zap.String("school_id", rc.SchoolID()),
			)
			continue
		}
		kept = append(kept, doc)
	}
	result.Documents = kept

	r.metrics.RecordScopeViolation(result.ScopeViolations)
	r.metrics.ObserveResolver(string(rc.Role()), time.Since(start), result.Degraded)
	return result, nil
}

func (r *DocumentResolver) resolveAdmin(ctx context.Context, rc models.RequestContext) ([]models.Document, error) {
	overview, err := r.repo.SchoolOverview(ctx, rc)
	if err != nil {
		return nil, err
	}
	months, err := r.repo.FinanceByMonth(ctx, rc, r.config.FinanceMonths)
	if err != nil {
		return nil, err
	}

	docs := make([]models.Document, 0, len(months)+1)
	if overview != nil {
		text := fmt.Sprintf("School overview: %d students, %d classes, %d teachers, %d recorded absences, average grade %s.",
			overview.Students, overview.Classes, overview.Teachers, overview.Absences, formatGrade(overview.AverageGrade))
		docs = append(docs, models.NewDocument(rc, models.DocSchoolOverview, "schools", rc.SchoolID(), text, r.stamp(overview.UpdatedAt)))
	}
	now := r.now()
	for _, m := range months {
		text := fmt.Sprintf("Finance %s: payments received %.2f, expenses %.2f, salaries %.2f.",
			m.Month, m.PaymentsReceived, m.Expenses, m.Salaries)
		docs = append(docs, models.NewDocument(rc, models.DocFinanceMonth, "payments", m.Month, text, now))
	}
	return docs, nil
}

func (r *DocumentResolver) resolveAccountant(ctx context.Context, rc models.RequestContext) ([]models.Document, error) {
	counts, err := r.repo.PaymentStatusCounts(ctx, rc)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, nil
	}
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s %d", c.Status, c.Count))
	}
	text := "Payments by status: " + strings.Join(parts, ", ") + "."
	return []models.Document{models.NewDocument(rc, models.DocPaymentsStatus, "payments", "status", text, r.now())}, nil
}

func (r *DocumentResolver) resolveTeacher(ctx context.Context, rc models.RequestContext) ([]models.Document, error) {
	classes, err := r.repo.TeacherClassSummaries(ctx, rc, r.config.PassingGrade)
	if err != nil {
		return nil, err
	}
	docs := make([]models.Document, 0, len(classes))
	for _, class := range classes {
		text := fmt.Sprintf("%s: average grade %s, %d absences.", class.ClassName, formatGrade(class.AverageGrade), class.Absences)
		if len(class.BelowThreshold) > 0 {
			names := append([]string(nil), class.BelowThreshold...)
			sort.Strings(names)
			text += fmt.Sprintf(" Below %.1f: %s.", r.config.PassingGrade, strings.Join(names, ", "))
		}
		docs = append(docs, models.NewDocument(rc, models.DocClassSummary, "classes", class.ClassID, text, r.stamp(class.UpdatedAt)))
	}
	return docs, nil
}

func (r *DocumentResolver) resolveStudent(ctx context.Context, rc models.RequestContext) ([]models.Document, error) {
	summary, slots, err := r.repo.StudentSummary(ctx, rc)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, nil
	}

	className := valueOr(summary.ClassName, "unassigned")
	text := fmt.Sprintf("%s (%s): average grade %s, %d absences.",
		summary.FullName, className, formatGrade(summary.AverageGrade), summary.Absences)
	docs := []models.Document{models.NewDocument(rc, models.DocStudentSummary, "students", summary.StudentID, text, r.stamp(summary.UpdatedAt))}

	if len(slots) > 0 {
		entries := make([]string, 0, len(slots))
		for _, slot := range slots {
			entries = append(entries, fmt.Sprintf("%s %s-%s %s", weekdayName(slot.DayOfWeek), slot.StartsAt, slot.EndsAt, slot.Subject))
		}
		sourceID := valueOr(summary.ClassID, summary.StudentID)
		timetable := fmt.Sprintf("Timetable for %s: %s.", className, strings.Join(entries, "; "))
		docs = append(docs, models.NewDocument(rc, models.DocTimetable, "timetables", sourceID, timetable, r.now()))
	}
	return docs, nil
}

func (r *DocumentResolver) resolveParent(ctx context.Context, rc models.RequestContext) ([]models.Document, error) {
	children, err := r.repo.ParentChildren(ctx, rc)
	if err != nil {
		return nil, err
	}
	docs := make([]models.Document, 0, len(children))
	for _, child := range children {
		text := fmt.Sprintf("%s (%s): average grade %s, %d absences.",
			child.FullName, valueOr(child.ClassName, "unassigned"), formatGrade(child.AverageGrade), child.Absences)
		docs = append(docs, models.NewDocument(rc, models.DocChildrenSummary, "students", child.StudentID, text, r.stamp(child.UpdatedAt)))
	}
	return docs, nil
}

func (r *DocumentResolver) stamp(t *time.Time) time.Time {
	if t == nil || t.IsZero() {
		return r.now()
	}
	return *t
}

func formatGrade(grade *float64) string {
	if grade == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *grade)
}

func valueOr(v *string, fallback string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return fallback
	}
	return *v
}

// weekdayName maps ISO day numbers (1 = Monday) to short names.
func weekdayName(day int) string {
	if day < 1 || day > 7 {
		return "Day " + fmt.Sprint(day)
	}
	return time.Weekday(day % 7).String()[:3]
}

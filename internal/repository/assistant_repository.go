package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-assistant-api/internal/models"
	"github.com/noah-isme/sma-assistant-api/pkg/database"
)

// AssistantRepository exposes the read-only queries backing assistant documents.
// Every query runs inside a scoped read-only transaction and binds the caller's
// school and user explicitly; nothing here reads request input.
type AssistantRepository struct {
	db        *sqlx.DB
	scopeRole string
}

// NewAssistantRepository instantiates the repository. scopeRole is the database
// role every read switches to; empty keeps the connection's login role.
func NewAssistantRepository(db *sqlx.DB, scopeRole string) *AssistantRepository {
	return &AssistantRepository{db: db, scopeRole: scopeRole}
}

func (r *AssistantRepository) scopeOf(rc models.RequestContext) database.Scope {
	return database.Scope{SchoolID: rc.SchoolID(), UserID: rc.UserID(), Role: string(rc.Role()), DBRole: r.scopeRole}
}

const schoolOverviewQuery = `SELECT
	(SELECT COUNT(*) FROM students WHERE school_id = $1) AS students,
	(SELECT COUNT(*) FROM classes WHERE school_id = $1) AS classes,
	(SELECT COUNT(*) FROM teachers WHERE school_id = $1) AS teachers,
	(SELECT COUNT(*) FROM absences WHERE school_id = $1) AS absences,
	(SELECT AVG(value) FROM grades WHERE school_id = $1) AS average_grade,
	(SELECT MAX(updated_at) FROM students WHERE school_id = $1) AS updated_at`

// SchoolOverview returns tenant-wide counts for the caller's school.
func (r *AssistantRepository) SchoolOverview(ctx context.Context, rc models.RequestContext) (*models.SchoolOverview, error) {
	var overview models.SchoolOverview
	err := database.ScopedReadOnly(ctx, r.db, r.scopeOf(rc), func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &overview, schoolOverviewQuery, rc.SchoolID())
	})
	if err != nil {
		return nil, fmt.Errorf("query school overview: %w", err)
	}
	return &overview, nil
}

const financeByMonthQuery = `WITH months AS (
	SELECT to_char(date_trunc('month', now()) - make_interval(months => n), 'YYYY-MM') AS month
	FROM generate_series(0, $2 - 1) AS n
)
SELECT m.month,
	COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.school_id = $1 AND p.status = 'paid' AND to_char(p.paid_at, 'YYYY-MM') = m.month), 0) AS payments_received,
	COALESCE((SELECT SUM(e.amount) FROM expenses e WHERE e.school_id = $1 AND to_char(e.spent_at, 'YYYY-MM') = m.month), 0) AS expenses,
	COALESCE((SELECT SUM(s.amount) FROM salaries s WHERE s.school_id = $1 AND to_char(s.paid_at, 'YYYY-MM') = m.month), 0) AS salaries
FROM months m
ORDER BY m.month DESC`

// FinanceByMonth returns per-month money totals for the last n months, newest first.
func (r *AssistantRepository) FinanceByMonth(ctx context.Context, rc models.RequestContext, months int) ([]models.FinanceMonth, error) {
	if months <= 0 {
		months = 6
	}
	var rows []models.FinanceMonth
	err := database.ScopedReadOnly(ctx, r.db, r.scopeOf(rc), func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, financeByMonthQuery, rc.SchoolID(), months)
	})
	if err != nil {
		return nil, fmt.Errorf("query finance by month: %w", err)
	}
	return rows, nil
}

const paymentStatusQuery = `SELECT status, COUNT(*) AS count FROM payments WHERE school_id = $1 GROUP BY status ORDER BY status`

// PaymentStatusCounts groups the school's payments by status.
func (r *AssistantRepository) PaymentStatusCounts(ctx context.Context, rc models.RequestContext) ([]models.PaymentStatusCount, error) {
	var rows []models.PaymentStatusCount
	err := database.ScopedReadOnly(ctx, r.db, r.scopeOf(rc), func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, paymentStatusQuery, rc.SchoolID())
	})
	if err != nil {
		return nil, fmt.Errorf("query payment status counts: %w", err)
	}
	return rows, nil
}

const teacherClassesQuery = `SELECT c.id AS class_id, c.name AS class_name,
	(SELECT AVG(g.value) FROM grades g JOIN students s ON s.id = g.student_id WHERE s.class_id = c.id AND s.school_id = $2 AND g.school_id = $2) AS average_grade,
	(SELECT COUNT(*) FROM absences a JOIN students s ON s.id = a.student_id WHERE s.class_id = c.id AND s.school_id = $2 AND a.school_id = $2) AS absences,
	c.updated_at
FROM classes c
JOIN class_teacher ct ON ct.class_id = c.id
JOIN teachers t ON t.id = ct.teacher_id
WHERE t.user_id = $1 AND t.school_id = $2 AND c.school_id = $2
ORDER BY c.name`

const teacherLowGradesQuery = `SELECT s.class_id, CONCAT_WS(' ', s.first_name, s.last_name) AS full_name, AVG(g.value) AS average_grade
FROM students s
JOIN grades g ON g.student_id = s.id AND g.school_id = $2
JOIN class_teacher ct ON ct.class_id = s.class_id
JOIN teachers t ON t.id = ct.teacher_id
WHERE t.user_id = $1 AND t.school_id = $2 AND s.school_id = $2
GROUP BY s.id, s.class_id, s.first_name, s.last_name
HAVING AVG(g.value) < $3
ORDER BY s.class_id, full_name`

// TeacherClassSummaries returns the classes assigned to the calling teacher with
// the names of their students below the passing grade.
func (r *AssistantRepository) TeacherClassSummaries(ctx context.Context, rc models.RequestContext, passingGrade float64) ([]models.ClassSummary, error) {
	var classes []models.ClassSummary
	var low []models.LowGradeStudent
	err := database.ScopedReadOnly(ctx, r.db, r.scopeOf(rc), func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &classes, teacherClassesQuery, rc.UserID(), rc.SchoolID()); err != nil {
			return err
		}
		if len(classes) == 0 {
			return nil
		}
		return tx.SelectContext(ctx, &low, teacherLowGradesQuery, rc.UserID(), rc.SchoolID(), passingGrade)
	})
	if err != nil {
		return nil, fmt.Errorf("query teacher classes: %w", err)
	}

	index := make(map[string]int, len(classes))
	for i := range classes {
		index[classes[i].ClassID] = i
	}
	for _, student := range low {
		if i, ok := index[student.ClassID]; ok {
			classes[i].BelowThreshold = append(classes[i].BelowThreshold, student.FullName)
		}
	}
	return classes, nil
}

const studentSummaryQuery = `SELECT s.id AS student_id, CONCAT_WS(' ', s.first_name, s.last_name) AS full_name, s.class_id, c.name AS class_name,
	(SELECT AVG(g.value) FROM grades g WHERE g.student_id = s.id AND g.school_id = $2) AS average_grade,
	(SELECT COUNT(*) FROM absences a WHERE a.student_id = s.id AND a.school_id = $2) AS absences,
	s.updated_at
FROM students s
LEFT JOIN classes c ON c.id = s.class_id AND c.school_id = $2
WHERE s.user_id = $1 AND s.school_id = $2
LIMIT 1`

const studentTimetableQuery = `SELECT tt.day_of_week, to_char(tt.starts_at, 'HH24:MI') AS starts_at, to_char(tt.ends_at, 'HH24:MI') AS ends_at, tt.subject
FROM timetables tt
JOIN students s ON s.class_id = tt.class_id
WHERE s.user_id = $1 AND s.school_id = $2 AND tt.school_id = $2
ORDER BY tt.day_of_week, tt.starts_at`

// StudentSummary returns the calling student's own record and weekly timetable.
// A user without a linked student yields (nil, nil, nil).
func (r *AssistantRepository) StudentSummary(ctx context.Context, rc models.RequestContext) (*models.StudentSummary, []models.TimetableSlot, error) {
	var summary models.StudentSummary
	var slots []models.TimetableSlot
	found := true
	err := database.ScopedReadOnly(ctx, r.db, r.scopeOf(rc), func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &summary, studentSummaryQuery, rc.UserID(), rc.SchoolID()); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				found = false
				return nil
			}
			return err
		}
		return tx.SelectContext(ctx, &slots, studentTimetableQuery, rc.UserID(), rc.SchoolID())
	})
	if err != nil {
		return nil, nil, fmt.Errorf("query student summary: %w", err)
	}
	if !found {
		return nil, nil, nil
	}
	return &summary, slots, nil
}

const parentChildrenQuery = `SELECT s.id AS student_id, CONCAT_WS(' ', s.first_name, s.last_name) AS full_name, c.name AS class_name,
	(SELECT AVG(g.value) FROM grades g WHERE g.student_id = s.id AND g.school_id = $2) AS average_grade,
	(SELECT COUNT(*) FROM absences a WHERE a.student_id = s.id AND a.school_id = $2) AS absences,
	s.updated_at
FROM parents p
JOIN parent_student ps ON ps.parent_id = p.id
JOIN students s ON s.id = ps.student_id
LEFT JOIN classes c ON c.id = s.class_id AND c.school_id = $2
WHERE p.user_id = $1 AND p.school_id = $2 AND s.school_id = $2
ORDER BY full_name`

// ParentChildren returns the children linked to the calling parent.
func (r *AssistantRepository) ParentChildren(ctx context.Context, rc models.RequestContext) ([]models.ChildSummary, error) {
	var rows []models.ChildSummary
	err := database.ScopedReadOnly(ctx, r.db, r.scopeOf(rc), func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &rows, parentChildrenQuery, rc.UserID(), rc.SchoolID())
	})
	if err != nil {
		return nil, fmt.Errorf("query parent children: %w", err)
	}
	return rows, nil
}

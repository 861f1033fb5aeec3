package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-assistant-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func expectScope(mock sqlmock.Sqlmock, schoolID, userID, role string) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('app.school_id', $1, true)")).
		WithArgs(schoolID, userID, role).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestTeacherClassSummariesBindsCallerAndAttachesOwnClassesOnly(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssistantRepository(db, "")
	rc := models.NewRequestContext(models.RoleTeacher, "teacher-user", "school-1")

	now := time.Now()
	expectScope(mock, "school-1", "teacher-user", "TEACHER")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.user_id = $1 AND t.school_id = $2 AND c.school_id = $2")).
		WithArgs("teacher-user", "school-1").
		WillReturnRows(sqlmock.NewRows([]string{"class_id", "class_name", "average_grade", "absences", "updated_at"}).
			AddRow("class-a", "Class A", 11.5, 3, now))
	mock.ExpectQuery(regexp.QuoteMeta("HAVING AVG(g.value) < $3")).
		WithArgs("teacher-user", "school-1", 10.0).
		WillReturnRows(sqlmock.NewRows([]string{"class_id", "full_name", "average_grade"}).
			AddRow("class-a", "Lina Haddad", 7.5).
			AddRow("class-b", "Omar Bennani", 6.0))
	mock.ExpectCommit()

	classes, err := repo.TeacherClassSummaries(context.Background(), rc, 10)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "Class A", classes[0].ClassName)
	assert.Equal(t, []string{"Lina Haddad"}, classes[0].BelowThreshold)
	require.NotNil(t, classes[0].AverageGrade)
	assert.InDelta(t, 11.5, *classes[0].AverageGrade, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherClassSummariesSkipsLowGradeQueryWithoutClasses(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssistantRepository(db, "")
	rc := models.NewRequestContext(models.RoleTeacher, "teacher-user", "school-1")

	expectScope(mock, "school-1", "teacher-user", "TEACHER")
	mock.ExpectQuery("FROM classes c").
		WillReturnRows(sqlmock.NewRows([]string{"class_id", "class_name", "average_grade", "absences", "updated_at"}))
	mock.ExpectCommit()

	classes, err := repo.TeacherClassSummaries(context.Background(), rc, 10)
	require.NoError(t, err)
	assert.Empty(t, classes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentSummaryNotLinkedReturnsNil(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssistantRepository(db, "")
	rc := models.NewRequestContext(models.RoleStudent, "student-user", "school-1")

	expectScope(mock, "school-1", "student-user", "STUDENT")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.user_id = $1 AND s.school_id = $2")).
		WithArgs("student-user", "school-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}))
	mock.ExpectCommit()

	summary, slots, err := repo.StudentSummary(context.Background(), rc)
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Nil(t, slots)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentSummaryWithTimetable(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssistantRepository(db, "")
	rc := models.NewRequestContext(models.RoleStudent, "student-user", "school-1")

	now := time.Now()
	expectScope(mock, "school-1", "student-user", "STUDENT")
	mock.ExpectQuery("FROM students s").
		WithArgs("student-user", "school-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "full_name", "class_id", "class_name", "average_grade", "absences", "updated_at"}).
			AddRow("stu-1", "Sara Alaoui", "class-a", "Class A", 14.25, 2, now))
	mock.ExpectQuery("FROM timetables tt").
		WithArgs("student-user", "school-1").
		WillReturnRows(sqlmock.NewRows([]string{"day_of_week", "starts_at", "ends_at", "subject"}).
			AddRow(1, "08:00", "09:00", "Mathematics"))
	mock.ExpectCommit()

	summary, slots, err := repo.StudentSummary(context.Background(), rc)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "Sara Alaoui", summary.FullName)
	assert.Equal(t, 2, summary.Absences)
	require.Len(t, slots, 1)
	assert.Equal(t, "Mathematics", slots[0].Subject)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParentChildrenScopedToParent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssistantRepository(db, "")
	rc := models.NewRequestContext(models.RoleParent, "parent-user", "school-1")

	expectScope(mock, "school-1", "parent-user", "PARENT")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE p.user_id = $1 AND p.school_id = $2 AND s.school_id = $2")).
		WithArgs("parent-user", "school-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "full_name", "class_name", "average_grade", "absences", "updated_at"}).
			AddRow("stu-1", "Sara Alaoui", "Class A", 14.0, 1, time.Now()))
	mock.ExpectCommit()

	children, err := repo.ParentChildren(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "stu-1", children[0].StudentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadsRunUnderScopedRole(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssistantRepository(db, "assistant_reader")
	rc := models.NewRequestContext(models.RoleParent, "parent-user", "school-1")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('role', $1, true)")).
		WithArgs("assistant_reader").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('app.school_id', $1, true)")).
		WithArgs("school-1", "parent-user", "PARENT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE p.user_id = $1 AND p.school_id = $2")).
		WithArgs("parent-user", "school-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "full_name", "class_name", "average_grade", "absences", "updated_at"}))
	mock.ExpectCommit()

	children, err := repo.ParentChildren(context.Background(), rc)
	require.NoError(t, err)
	assert.Empty(t, children)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentStatusCountsRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssistantRepository(db, "")
	rc := models.NewRequestContext(models.RoleAccountant, "acct-user", "school-1")

	expectScope(mock, "school-1", "acct-user", "ACCOUNTANT")
	mock.ExpectQuery("FROM payments WHERE school_id = \\$1 GROUP BY status").
		WithArgs("school-1").
		WillReturnError(errors.New("relation payments does not exist"))
	mock.ExpectRollback()

	rows, err := repo.PaymentStatusCounts(context.Background(), rc)
	assert.Error(t, err)
	assert.Nil(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchoolOverviewAndFinance(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAssistantRepository(db, "")
	rc := models.NewRequestContext(models.RoleAdmin, "admin-user", "school-1")

	expectScope(mock, "school-1", "admin-user", "ADMIN")
	mock.ExpectQuery("AS students").
		WithArgs("school-1").
		WillReturnRows(sqlmock.NewRows([]string{"students", "classes", "teachers", "absences", "average_grade", "updated_at"}).
			AddRow(2, 1, 1, 1, 12.0, time.Now()))
	mock.ExpectCommit()

	expectScope(mock, "school-1", "admin-user", "ADMIN")
	mock.ExpectQuery("generate_series").
		WithArgs("school-1", 6).
		WillReturnRows(sqlmock.NewRows([]string{"month", "payments_received", "expenses", "salaries"}).
			AddRow("2026-10", 500.0, 120.0, 900.0))
	mock.ExpectCommit()

	overview, err := repo.SchoolOverview(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, 2, overview.Students)

	months, err := repo.FinanceByMonth(context.Background(), rc, 0)
	require.NoError(t, err)
	require.Len(t, months, 1)
	assert.Equal(t, "2026-10", months[0].Month)
	assert.NoError(t, mock.ExpectationsWereMet())
}

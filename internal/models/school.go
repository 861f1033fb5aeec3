package models

import "time"

// SchoolOverview holds tenant-wide counts; it never carries individual identifiers.
type SchoolOverview struct {
	Students     int        `db:"students"`
	Classes      int        `db:"classes"`
	Teachers     int        `db:"teachers"`
	Absences     int        `db:"absences"`
	AverageGrade *float64   `db:"average_grade"`
	UpdatedAt    *time.Time `db:"updated_at"`
}

// FinanceMonth aggregates money movements for one calendar month.
type FinanceMonth struct {
	Month            string  `db:"month"`
	PaymentsReceived float64 `db:"payments_received"`
	Expenses         float64 `db:"expenses"`
	Salaries         float64 `db:"salaries"`
}

// PaymentStatusCount counts payments sharing a status.
type PaymentStatusCount struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}

// ClassSummary describes one class assigned to a teacher.
type ClassSummary struct {
	ClassID        string     `db:"class_id"`
	ClassName      string     `db:"class_name"`
	AverageGrade   *float64   `db:"average_grade"`
	Absences       int        `db:"absences"`
	UpdatedAt      *time.Time `db:"updated_at"`
	BelowThreshold []string   `db:"-"`
}

// LowGradeStudent is a student under the passing threshold within a class.
type LowGradeStudent struct {
	ClassID      string  `db:"class_id"`
	FullName     string  `db:"full_name"`
	AverageGrade float64 `db:"average_grade"`
}

// StudentSummary is the authenticated student's own record.
type StudentSummary struct {
	StudentID    string     `db:"student_id"`
	FullName     string     `db:"full_name"`
	ClassID      *string    `db:"class_id"`
	ClassName    *string    `db:"class_name"`
	AverageGrade *float64   `db:"average_grade"`
	Absences     int        `db:"absences"`
	UpdatedAt    *time.Time `db:"updated_at"`
}

// TimetableSlot is one weekly lesson.
type TimetableSlot struct {
	DayOfWeek int    `db:"day_of_week"`
	StartsAt  string `db:"starts_at"`
	EndsAt    string `db:"ends_at"`
	Subject   string `db:"subject"`
}

// ChildSummary is the grade overview of a child linked to a parent.
type ChildSummary struct {
	StudentID    string     `db:"student_id"`
	FullName     string     `db:"full_name"`
	ClassName    *string    `db:"class_name"`
	AverageGrade *float64   `db:"average_grade"`
	Absences     int        `db:"absences"`
	UpdatedAt    *time.Time `db:"updated_at"`
}

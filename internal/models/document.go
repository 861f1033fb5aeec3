package models

import (
	"fmt"
	"strings"
	"time"
)

// DocumentType names the kind of fact a document carries.
type DocumentType string

const (
	DocSchoolOverview  DocumentType = "school_overview"
	DocFinanceMonth    DocumentType = "finance_month"
	DocPaymentsStatus  DocumentType = "payments_status"
	DocClassSummary    DocumentType = "class_summary"
	DocStudentSummary  DocumentType = "student_summary"
	DocTimetable       DocumentType = "timetable"
	DocChildrenSummary DocumentType = "children_summary"
)

// Document is a role and tenant scoped fact synthesised for a single request. Never persisted.
type Document struct {
	ID          string       `json:"doc_id"`
	SchoolID    string       `json:"school_id"`
	Role        UserRole     `json:"role"`
	Type        DocumentType `json:"document_type"`
	Text        string       `json:"document_text"`
	UpdatedAt   time.Time    `json:"updated_at"`
	SourceTable string       `json:"source_table"`
	SourceID    string       `json:"source_id"`
}

// DocumentID derives the stable identifier for a document from its type, source and scope.
func DocumentID(docType DocumentType, sourceID, schoolID string, role UserRole) string {
	return fmt.Sprintf("%s:%s:%s:%s", docType, sourceID, schoolID, strings.ToLower(string(role)))
}

// NewDocument fills the identifier and scope fields from the request context.
func NewDocument(rc RequestContext, docType DocumentType, sourceTable, sourceID, text string, updatedAt time.Time) Document {
	return Document{
		ID:          DocumentID(docType, sourceID, rc.SchoolID(), rc.Role()),
		SchoolID:    rc.SchoolID(),
		Role:        rc.Role(),
		Type:        docType,
		Text:        text,
		UpdatedAt:   updatedAt.UTC(),
		SourceTable: sourceTable,
		SourceID:    sourceID,
	}
}

// DocumentIDs returns the ids of the provided documents in order.
func DocumentIDs(docs []Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

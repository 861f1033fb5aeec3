package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-assistant-api/internal/models"
)

func sampleDocs(role models.UserRole, n int) []models.Document {
	rc := models.NewRequestContext(role, "user-1", "school-1")
	docs := make([]models.Document, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		docs = append(docs, models.NewDocument(rc, models.DocClassSummary, "classes", id, "Class "+strings.ToUpper(id)+": average grade 11.00, 0 absences.", time.Now()))
	}
	return docs
}

func TestTemplateComposerAdminHeader(t *testing.T) {
	rc := models.NewRequestContext(models.RoleAdmin, "admin-1", "school-1")
	docs := []models.Document{models.NewDocument(rc, models.DocSchoolOverview, "schools", "school-1", "2 students, 2 classes.", time.Now())}

	result, err := NewTemplateComposer(ComposerLimits{}).Compose(context.Background(), "overview?", docs)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Content, "School overview"))
	assert.Contains(t, result.Content, "- 2 students, 2 classes.")
	assert.Equal(t, []string{docs[0].ID}, result.DocumentsUsed)
}

func TestTemplateComposerEmptyDocuments(t *testing.T) {
	result, err := NewTemplateComposer(ComposerLimits{}).Compose(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, emptyReply, result.Content)
	assert.Empty(t, result.DocumentsUsed)
}

func TestTemplateComposerCapsDocumentCount(t *testing.T) {
	docs := sampleDocs(models.RoleTeacher, 5)

	result, err := NewTemplateComposer(ComposerLimits{MaxDocuments: 2}).Compose(context.Background(), "", docs)
	require.NoError(t, err)
	assert.Equal(t, []string{docs[0].ID, docs[1].ID}, result.DocumentsUsed)
	assert.NotContains(t, result.Content, "Class C")
}

func TestTemplateComposerCapsReplyLength(t *testing.T) {
	docs := sampleDocs(models.RoleTeacher, 5)
	limit := len("Summary of your classes:") + len("\n- "+docs[0].Text) + 5

	result, err := NewTemplateComposer(ComposerLimits{MaxReplyChars: limit}).Compose(context.Background(), "", docs)
	require.NoError(t, err)
	assert.Equal(t, []string{docs[0].ID}, result.DocumentsUsed)
	assert.LessOrEqual(t, len(result.Content), limit)
}

func TestLLMComposerSendsOnlyQuestionAndDocuments(t *testing.T) {
	var captured struct {
		Model    string                  `json:"model"`
		Messages []chatCompletionMessage `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Class A is doing fine.  "}}]}`))
	}))
	defer server.Close()

	composer := NewLLMComposer(LLMConfig{BaseURL: server.URL + "/v1/", APIKey: "secret", Model: "test-model"}, ComposerLimits{}, server.Client())
	docs := sampleDocs(models.RoleTeacher, 2)

	result, err := composer.Compose(context.Background(), "How is class A?", docs)
	require.NoError(t, err)
	assert.Equal(t, "Class A is doing fine.", result.Content)
	assert.Equal(t, models.DocumentIDs(docs), result.DocumentsUsed)

	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, docs[0].Text)
	assert.Contains(t, captured.Messages[0].Content, docs[1].Text)
	assert.Equal(t, "How is class A?", captured.Messages[1].Content)
}

func TestLLMComposerErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	composer := NewLLMComposer(LLMConfig{BaseURL: server.URL}, ComposerLimits{}, server.Client())
	_, err := composer.Compose(context.Background(), "q", sampleDocs(models.RoleTeacher, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLLMComposerEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	composer := NewLLMComposer(LLMConfig{BaseURL: server.URL}, ComposerLimits{}, server.Client())
	_, err := composer.Compose(context.Background(), "q", sampleDocs(models.RoleTeacher, 1))
	require.Error(t, err)
}

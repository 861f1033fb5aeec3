package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/noah-isme/sma-assistant-api/internal/models"
)

const (
	defaultMaxDocuments  = 12
	defaultMaxReplyChars = 4000
	emptyReply           = "No information is available for your account right now."
)

var roleHeaders = map[models.UserRole]string{
	models.RoleAdmin:      "School overview for your school:",
	models.RoleAccountant: "Payments summary for your school:",
	models.RoleTeacher:    "Summary of your classes:",
	models.RoleStudent:    "Your school record:",
	models.RoleParent:     "Summary for your children:",
}

// ComposeResult carries the reply text and the ids of the documents it used.
type ComposeResult struct {
	Content       string
	DocumentsUsed []string
}

// ComposerLimits caps how much of the document set reaches a reply.
type ComposerLimits struct {
	MaxDocuments  int
	MaxReplyChars int
}

func (l ComposerLimits) normalize() ComposerLimits {
	if l.MaxDocuments <= 0 {
		l.MaxDocuments = defaultMaxDocuments
	}
	if l.MaxReplyChars <= 0 {
		l.MaxReplyChars = defaultMaxReplyChars
	}
	return l
}

type responseComposer interface {
	Compose(ctx context.Context, question string, docs []models.Document) (ComposeResult, error)
}

// TemplateComposer renders documents verbatim under a role header.
type TemplateComposer struct {
	limits ComposerLimits
}

// NewTemplateComposer constructs a TemplateComposer.
func NewTemplateComposer(limits ComposerLimits) *TemplateComposer {
	return &TemplateComposer{limits: limits.normalize()}
}

// Compose lists each document as a bullet until a cap is hit.
func (c *TemplateComposer) Compose(_ context.Context, _ string, docs []models.Document) (ComposeResult, error) {
	if len(docs) == 0 {
		return ComposeResult{Content: emptyReply, DocumentsUsed: []string{}}, nil
	}

	header, ok := roleHeaders[docs[0].Role]
	if !ok {
		header = "Here is what I found:"
	}

	var b strings.Builder
	b.WriteString(header)
	used := make([]string, 0, len(docs))
	for _, doc := range docs {
		if len(used) >= c.limits.MaxDocuments {
			break
		}
		line := "\n- " + doc.Text
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(line) > c.limits.MaxReplyChars {
			break
		}
		b.WriteString(line)
		used = append(used, doc.ID)
	}
	return ComposeResult{Content: b.String(), DocumentsUsed: used}, nil
}

// LLMConfig points the LLM composer at an OpenAI compatible endpoint.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMComposer phrases the reply with a chat completion model. The model only
// sees the question and the already resolved documents.
type LLMComposer struct {
	config     LLMConfig
	limits     ComposerLimits
	httpClient *http.Client
}

// NewLLMComposer constructs an LLMComposer.
func NewLLMComposer(cfg LLMConfig, limits ComposerLimits, client *http.Client) *LLMComposer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &LLMComposer{config: cfg, limits: limits.normalize(), httpClient: client}
}

// Compose asks the model to answer from the provided documents only.
func (c *LLMComposer) Compose(ctx context.Context, question string, docs []models.Document) (ComposeResult, error) {
	if len(docs) > c.limits.MaxDocuments {
		docs = docs[:c.limits.MaxDocuments]
	}

	var prompt strings.Builder
	prompt.WriteString("You are a school assistant. Answer only from the facts below. ")
	prompt.WriteString("If the facts do not cover the question, say that the information is not available.\n\nFacts:\n")
	used := make([]string, 0, len(docs))
	for _, doc := range docs {
		prompt.WriteString("- ")
		prompt.WriteString(doc.Text)
		prompt.WriteString("\n")
		used = append(used, doc.ID)
	}

	content, err := c.complete(ctx, []chatCompletionMessage{
		{Role: "system", Content: prompt.String()},
		{Role: "user", Content: question},
	})
	if err != nil {
		return ComposeResult{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ComposeResult{}, errors.New("empty llm reply")
	}
	if utf8.RuneCountInString(content) > c.limits.MaxReplyChars {
		content = string([]rune(content)[:c.limits.MaxReplyChars])
	}
	return ComposeResult{Content: content, DocumentsUsed: used}, nil
}

func (c *LLMComposer) complete(ctx context.Context, messages []chatCompletionMessage) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model":    c.config.Model,
		"messages": messages,
		"stream":   false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal llm request failed: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read llm response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm response status %d", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty llm choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

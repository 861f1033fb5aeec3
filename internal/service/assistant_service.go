package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-assistant-api/internal/dto"
	"github.com/noah-isme/sma-assistant-api/internal/models"
	appErrors "github.com/noah-isme/sma-assistant-api/pkg/errors"
)

const (
	rateLimitedReply = "You have reached the assistant usage limit for this period. Please try again later."
	unavailableReply = "The assistant is temporarily unavailable. Please try again later."
	invalidReply     = "Please send a question of up to 4000 characters."
	maxQuestionChars = 4000
)

type contextBinder interface {
	Bind(identity models.Identity) (models.RequestContext, error)
}

type rateLimiter interface {
	CheckAndIncrement(ctx context.Context, userID string) (RateDecision, error)
}

type documentResolver interface {
	Resolve(ctx context.Context, rc models.RequestContext, question string) (ResolveResult, error)
}

type auditRecorder interface {
	Record(ctx context.Context, rec AuditRecord) error
}

// AssistantDeps groups the pipeline steps of the assistant.
type AssistantDeps struct {
	Binder   contextBinder
	Limiter  rateLimiter
	Resolver documentResolver
	Composer responseComposer
	Fallback responseComposer
	Audit    auditRecorder
}

// AssistantService answers chat requests from role scoped documents.
type AssistantService struct {
	binder    contextBinder
	limiter   rateLimiter
	resolver  documentResolver
	composer  responseComposer
	fallback  responseComposer
	audit     auditRecorder
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewAssistantService constructs an AssistantService.
func NewAssistantService(deps AssistantDeps, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *AssistantService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Binder == nil {
		deps.Binder = NewContextBinder()
	}
	if deps.Composer == nil {
		deps.Composer = NewTemplateComposer(ComposerLimits{})
	}
	return &AssistantService{
		binder:    deps.Binder,
		limiter:   deps.Limiter,
		resolver:  deps.Resolver,
		composer:  deps.Composer,
		fallback:  deps.Fallback,
		audit:     deps.Audit,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
	}
}

// Ask runs one request through bind, limit, resolve, compose and audit. Only
// context failures are returned as errors; every other outcome, an invalid
// question included, is charged and answered with a reply plus exactly one
// audit row.
func (s *AssistantService) Ask(ctx context.Context, correlationID string, identity models.Identity, req dto.ChatRequest) (*dto.ChatReply, error) {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	rc, err := s.binder.Bind(identity)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("role", string(rc.Role())),
		zap.String("school_id", rc.SchoolID()),
	)

	decision, err := s.limiter.CheckAndIncrement(ctx, rc.UserID())
	if err != nil {
		s.finish(ctx, logger, AuditRecord{
			CorrelationID: correlationID,
			Context:       rc,
			Status:        models.AuditStatusError,
			Flagged:       true,
			FlagReason:    models.FlagCounterStore,
		})
		return &dto.ChatReply{Content: unavailableReply}, nil
	}
	if !decision.Allowed {
		logger.Info("assistant rate limited", zap.Int64("count", decision.Count), zap.Int("limit", decision.Limit))
		s.finish(ctx, logger, AuditRecord{
			CorrelationID: correlationID,
			Context:       rc,
			Status:        models.AuditStatusRateLimited,
		})
		return &dto.ChatReply{Content: rateLimitedReply}, nil
	}

	question, err := s.question(req)
	if err != nil {
		logger.Info("assistant question rejected", zap.Error(err))
		s.finish(ctx, logger, AuditRecord{
			CorrelationID: correlationID,
			Context:       rc,
			Status:        models.AuditStatusError,
			Flagged:       true,
			FlagReason:    models.FlagInvalidQuestion,
		})
		return &dto.ChatReply{Content: invalidReply}, nil
	}

	resolved, err := s.resolver.Resolve(ctx, rc, question)
	if err != nil {
		logger.Error("document resolution failed", zap.Error(err))
		s.finish(ctx, logger, AuditRecord{
			CorrelationID: correlationID,
			Context:       rc,
			Status:        models.AuditStatusError,
			Flagged:       true,
			FlagReason:    models.FlagResolverDegraded,
		})
		return &dto.ChatReply{Content: unavailableReply}, nil
	}

	var flags []string
	if resolved.ScopeViolations > 0 {
		flags = append(flags, models.FlagScopeViolation)
	}
	if resolved.Degraded {
		flags = append(flags, models.FlagResolverDegraded)
	} else if resolved.Expected && len(resolved.Documents) == 0 {
		flags = append(flags, models.FlagNoDocuments)
	}

	composed, err := s.composer.Compose(ctx, question, resolved.Documents)
	if err != nil && s.fallback != nil {
		logger.Warn("composer failed, using fallback", zap.Error(err))
		flags = append(flags, models.FlagComposerFallback)
		composed, err = s.fallback.Compose(ctx, question, resolved.Documents)
	}
	if err != nil {
		logger.Error("composer failed", zap.Error(err))
		flags = append(flags, models.FlagComposerError)
		s.finish(ctx, logger, AuditRecord{
			CorrelationID: correlationID,
			Context:       rc,
			Status:        models.AuditStatusError,
			Flagged:       true,
			FlagReason:    strings.Join(flags, ","),
		})
		return &dto.ChatReply{Content: unavailableReply}, nil
	}

	s.finish(ctx, logger, AuditRecord{
		CorrelationID: correlationID,
		Context:       rc,
		Status:        models.AuditStatusOK,
		DocumentIDs:   composed.DocumentsUsed,
		Flagged:       len(flags) > 0,
		FlagReason:    strings.Join(flags, ","),
	})
	return &dto.ChatReply{Content: composed.Content}, nil
}

func (s *AssistantService) finish(ctx context.Context, logger *zap.Logger, rec AuditRecord) {
	if err := s.audit.Record(ctx, rec); err != nil {
		logger.Warn("assistant reply returned without audit row")
	}
	s.metrics.ObserveAssistantRequest(string(rec.Context.Role()), string(rec.Status), rec.Flagged, len(rec.DocumentIDs))
}

// question validates the payload and returns the content of the last user message.
func (s *AssistantService) question(req dto.ChatRequest) (string, error) {
	if err := s.validator.Struct(req); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid chat payload")
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role != "user" {
			continue
		}
		q := strings.TrimSpace(msg.Content)
		if q == "" {
			return "", appErrors.Clone(appErrors.ErrValidation, "question is empty")
		}
		if len([]rune(q)) > maxQuestionChars {
			return "", appErrors.Clone(appErrors.ErrValidation, "question is too long")
		}
		return q, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, "no user message")
}

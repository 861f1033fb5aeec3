package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-assistant-api/internal/dto"
	"github.com/noah-isme/sma-assistant-api/internal/models"
	appErrors "github.com/noah-isme/sma-assistant-api/pkg/errors"
	"github.com/noah-isme/sma-assistant-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-assistant-api/pkg/response"
)

type assistantService interface {
	Ask(ctx context.Context, correlationID string, identity models.Identity, req dto.ChatRequest) (*dto.ChatReply, error)
}

// AssistantHandler exposes the in-app assistant.
type AssistantHandler struct {
	service assistantService
}

// NewAssistantHandler constructs the handler.
func NewAssistantHandler(service assistantService) *AssistantHandler {
	return &AssistantHandler{service: service}
}

// Chat godoc
// @Summary Ask the school assistant
// @Description Answers from documents scoped to the caller's role and school. Rate limited and degraded answers still return 200.
// @Tags Assistant
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ChatRequest true "Conversation"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /assistant/chat [post]
func (h *AssistantHandler) Chat(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid chat payload"))
		return
	}

	correlationID := requestid.Value(c)
	reply, err := h.service.Ask(c.Request.Context(), correlationID, claims.Identity(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, reply, map[string]interface{}{"correlation_id": correlationID})
}

package service

import (
	"strings"

	"github.com/noah-isme/sma-assistant-api/internal/models"
	appErrors "github.com/noah-isme/sma-assistant-api/pkg/errors"
)

// ContextBinder turns an authenticated identity into the request context used by
// every downstream step.
type ContextBinder struct{}

// NewContextBinder constructs a ContextBinder.
func NewContextBinder() *ContextBinder {
	return &ContextBinder{}
}

// Bind resolves the caller's role by precedence and validates the tenant. It never
// reads the request body.
func (b *ContextBinder) Bind(identity models.Identity) (models.RequestContext, error) {
	userID := strings.TrimSpace(identity.UserID)
	if userID == "" {
		return models.RequestContext{}, appErrors.Clone(appErrors.ErrContext, "session has no user")
	}

	role, ok := resolveRole(identity.Roles)
	if !ok {
		return models.RequestContext{}, appErrors.Clone(appErrors.ErrContext, "session has no assistant role")
	}

	schoolID := strings.TrimSpace(identity.SchoolID)
	if schoolID == "" {
		return models.RequestContext{}, appErrors.Clone(appErrors.ErrContext, "session is not bound to a school")
	}
	if !identity.SchoolActive {
		return models.RequestContext{}, appErrors.Clone(appErrors.ErrContext, "school is not active")
	}

	return models.NewRequestContext(role, userID, schoolID), nil
}

func resolveRole(raw []string) (models.UserRole, bool) {
	held := make(map[models.UserRole]struct{}, len(raw))
	for _, r := range raw {
		if role, ok := models.ParseRole(r); ok {
			held[role] = struct{}{}
		}
	}
	for _, role := range models.AllRoles() {
		if _, ok := held[role]; ok {
			return role, true
		}
	}
	return "", false
}

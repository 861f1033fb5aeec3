package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-assistant-api/internal/models"
	appErrors "github.com/noah-isme/sma-assistant-api/pkg/errors"
	"github.com/noah-isme/sma-assistant-api/pkg/response"
)

// RBAC lets a request through when the token carries at least one allowed role.
func RBAC(allowed ...models.UserRole) gin.HandlerFunc {
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed))
	for _, r := range allowed {
		allowedRoles[r] = struct{}{}
	}

	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		for _, raw := range claims.Roles {
			role, known := models.ParseRole(raw)
			if !known {
				continue
			}
			if _, ok := allowedRoles[role]; ok {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles is a helper that accepts a list of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return RBAC(roles...)
}

package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerKey       = "X-Request-ID"
	contextKey      = "request_id"
	clientHeaderKey = "X-Client-Request-ID"
	clientCtxKey    = "client_request_id"
)

// Middleware assigns a server-generated request ID to each incoming HTTP request.
// The ID doubles as the audit correlation id, so an inbound X-Request-ID is never
// trusted as-is; it is kept separately for log joins with the caller.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := uuid.NewString()

		if inbound := c.GetHeader(headerKey); inbound != "" && len(inbound) <= 128 {
			c.Set(clientCtxKey, inbound)
			c.Writer.Header().Set(clientHeaderKey, inbound)
		}

		c.Set(contextKey, reqID)
		c.Writer.Header().Set(headerKey, reqID)

		c.Next()
	}
}

// Value returns the request ID stored in the Gin context.
func Value(c *gin.Context) string {
	if v, exists := c.Get(contextKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// ClientValue returns the caller-supplied request ID, if any.
func ClientValue(c *gin.Context) string {
	if v, exists := c.Get(clientCtxKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

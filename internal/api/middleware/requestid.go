package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader is the header carrying the correlation ID.
const RequestIDHeader = "X-Request-ID"

// RequestIDKey is the gin context key holding the correlation ID.
const RequestIDKey = "request_id"

// RequestID tags every request with a correlation ID. An inbound
// X-Request-ID is honored so device-side retries stay traceable;
// otherwise a fresh UUID is minted.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(RequestIDKey, rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}

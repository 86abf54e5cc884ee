package mw

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"device-registry-backend/internal/logging"
)

const HeaderRequestID = "X-Request-ID"

// RequestID carries the caller's request id, or a fresh one, into the request context
// and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

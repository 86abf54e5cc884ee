package mw

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxActor = "actor"

// RequireActor reads the verified actor id set by the upstream gateway. Requests without one get 401.
func RequireActor(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(header))
		if actor == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing actor identity", "code": "unauthenticated"})
			return
		}
		c.Set(ctxActor, actor)
		c.Next()
	}
}

// Actor returns the actor id stored by RequireActor.
func Actor(c *gin.Context) string {
	return c.GetString(ctxActor)
}

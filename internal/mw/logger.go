package mw

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"device-registry-backend/internal/logging"
)

// UseLogger writes one line per request through logrus. Server errors log at error level.
func UseLogger(logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		lReq := logging.ConfigureLogger(c.Request.Context(), logger)
		status := c.Writer.Status()
		line := lReq.WithFields(logrus.Fields{
			"status":  status,
			"latency": time.Since(start).String(),
			"ip":      c.ClientIP(),
		})
		switch {
		case status >= 500:
			line.Errorf("%-7s %s %s", c.Request.Method, path, c.Errors.ByType(gin.ErrorTypePrivate).String())
		case status >= 400:
			line.Infof("%-7s %s", c.Request.Method, path)
		default:
			line.Debugf("%-7s %s", c.Request.Method, path)
		}
	}
}

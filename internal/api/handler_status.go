package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStatus handles the public GET /api/status?identifier=<raw> request.
// The response never carries owner or history data.
func (h *Handler) GetStatus(c *gin.Context) {
	raw := c.Query("identifier")
	if raw == "" {
		badRequest(c, errors.New("identifier is required"))
		return
	}

	result, err := h.checker.CheckStatus(c.Request.Context(), raw)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

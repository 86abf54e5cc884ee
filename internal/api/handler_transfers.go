package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"device-registry-backend/internal/model"
	"device-registry-backend/internal/mw"
	"device-registry-backend/internal/transfer"
)

type initiateTransferRequest struct {
	DeviceID   string `json:"deviceId"`
	Identifier string `json:"identifier"`
	To         string `json:"to" binding:"required,max=254"`
}

// InitiateTransfer handles POST /api/transfers.
func (h *Handler) InitiateTransfer(c *gin.Context) {
	var req initiateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.DeviceID == "" && req.Identifier == "" {
		badRequest(c, errors.New("deviceId or identifier is required"))
		return
	}

	actor := mw.Actor(c)
	attempt, err := h.workflow.Initiate(c.Request.Context(), transfer.InitiateInput{
		DeviceID:         req.DeviceID,
		Identifier:       req.Identifier,
		ActorID:          actor,
		ToOwnerEmailOrID: req.To,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	view, err := h.workflow.Get(c.Request.Context(), attempt.ID, actor)
	if err != nil {
		c.JSON(http.StatusCreated, transfer.View{Attempt: attempt})
		return
	}
	c.JSON(http.StatusCreated, view)
}

// GetTransfer handles GET /api/transfers/:id.
func (h *Handler) GetTransfer(c *gin.Context) {
	view, err := h.workflow.Get(c.Request.Context(), c.Param("id"), mw.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type verifyRequest struct {
	Code string `json:"code" binding:"required,max=32"`
}

// VerifyTransfer handles POST /api/transfers/:id/verify.
func (h *Handler) VerifyTransfer(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	attempt, err := h.workflow.Verify(c.Request.Context(), c.Param("id"), mw.Actor(c), req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// ResendChallenge handles POST /api/transfers/:id/resend.
func (h *Handler) ResendChallenge(c *gin.Context) {
	actor := mw.Actor(c)
	if _, err := h.workflow.Resend(c.Request.Context(), c.Param("id"), actor); err != nil {
		h.writeError(c, err)
		return
	}
	view, err := h.workflow.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type reasonRequest struct {
	ReasonCode   model.ReasonCode `json:"reasonCode" binding:"required"`
	CustomReason string           `json:"customReason"`
}

// SubmitReason handles POST /api/transfers/:id/reason. A valid reason completes the transfer.
func (h *Handler) SubmitReason(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	attempt, err := h.workflow.SubmitReason(c.Request.Context(), transfer.ReasonInput{
		AttemptID:    c.Param("id"),
		ActorID:      mw.Actor(c),
		ReasonCode:   req.ReasonCode,
		CustomReason: req.CustomReason,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// CompleteTransfer handles POST /api/transfers/:id/complete.
func (h *Handler) CompleteTransfer(c *gin.Context) {
	attempt, err := h.workflow.Complete(c.Request.Context(), c.Param("id"), mw.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

// CancelTransfer handles POST /api/transfers/:id/cancel.
func (h *Handler) CancelTransfer(c *gin.Context) {
	attempt, err := h.workflow.Cancel(c.Request.Context(), c.Param("id"), mw.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempt)
}

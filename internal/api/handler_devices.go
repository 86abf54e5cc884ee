package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"device-registry-backend/internal/model"
	"device-registry-backend/internal/mw"
	"device-registry-backend/internal/registry"
)

type registerDeviceRequest struct {
	Label  string `json:"label" binding:"max=128"`
	IMEI   string `json:"imei"`
	IMEI2  string `json:"imei2"`
	Serial string `json:"serial"`
}

// RegisterDevice handles POST /api/devices.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dev, err := h.registry.Register(c.Request.Context(), registry.RegisterInput{
		OwnerID: mw.Actor(c),
		Label:   req.Label,
		IMEI:    req.IMEI,
		IMEI2:   req.IMEI2,
		Serial:  req.Serial,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dev)
}

// ListDevices handles GET /api/devices for the calling owner.
func (h *Handler) ListDevices(c *gin.Context) {
	devices, err := h.registry.ListByOwner(c.Request.Context(), mw.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if devices == nil {
		devices = []model.Device{}
	}
	c.JSON(http.StatusOK, devices)
}

// GetDevice handles GET /api/devices/:id.
func (h *Handler) GetDevice(c *gin.Context) {
	dev, err := h.registry.GetOwned(c.Request.Context(), c.Param("id"), mw.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dev)
}

// GetDeviceHistory handles GET /api/devices/:id/history.
func (h *Handler) GetDeviceHistory(c *gin.Context) {
	events, err := h.registry.History(c.Request.Context(), c.Param("id"), mw.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

type reportDeviceRequest struct {
	Status model.DeviceStatus `json:"status" binding:"required,oneof=active reported_missing reported_stolen"`
	Note   string             `json:"note" binding:"max=512"`
}

// ReportDevice handles POST /api/devices/:id/report.
func (h *Handler) ReportDevice(c *gin.Context) {
	var req reportDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dev, err := h.registry.Report(c.Request.Context(), registry.ReportInput{
		DeviceID: c.Param("id"),
		ActorID:  mw.Actor(c),
		Status:   req.Status,
		Note:     req.Note,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dev)
}

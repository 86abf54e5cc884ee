package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"device-registry-backend/internal/model"
	"device-registry-backend/internal/mw"
)

type pushSubscription struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	P256DH   string `json:"p256dh" binding:"required"`
	Auth     string `json:"auth" binding:"required"`
}

type putContactRequest struct {
	Email        string               `json:"email" binding:"omitempty,email,max=254"`
	Phone        string               `json:"phone" binding:"max=32"`
	Channel      model.ContactChannel `json:"channel" binding:"required,oneof=email push log"`
	Subscription *pushSubscription    `json:"subscription"`
}

type contactResponse struct {
	Email           string               `json:"email,omitempty"`
	Phone           string               `json:"phone,omitempty"`
	Channel         model.ContactChannel `json:"channel"`
	HasSubscription bool                 `json:"hasSubscription"`
}

func toContactResponse(c *model.OwnerContact) contactResponse {
	return contactResponse{
		Email:           c.Email,
		Phone:           c.Phone,
		Channel:         c.Channel,
		HasSubscription: c.HasPush(),
	}
}

// PutContact creates or replaces the caller's contact record.
func (h *Handler) PutContact(c *gin.Context) {
	var req putContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	switch {
	case req.Channel == model.ChannelEmail && req.Email == "":
		badRequest(c, errors.New("email channel requires an email address"))
		return
	case req.Channel == model.ChannelPush && req.Subscription == nil:
		badRequest(c, errors.New("push channel requires a subscription"))
		return
	}

	contact := model.OwnerContact{
		OwnerID: mw.Actor(c),
		Email:   req.Email,
		Phone:   req.Phone,
		Channel: req.Channel,
	}
	if req.Subscription != nil {
		contact.Endpoint = req.Subscription.Endpoint
		contact.P256DH = req.Subscription.P256DH
		contact.Auth = req.Subscription.Auth
	}

	if err := h.contacts.UpsertContact(c.Request.Context(), &contact); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContactResponse(&contact))
}

// GetContact returns the caller's contact record.
func (h *Handler) GetContact(c *gin.Context) {
	contact, err := h.contacts.GetContact(c.Request.Context(), mw.Actor(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toContactResponse(contact))
}

// DeleteContact removes the caller's contact record. Open transfers keep their issued challenge.
func (h *Handler) DeleteContact(c *gin.Context) {
	if err := h.contacts.DeleteContact(c.Request.Context(), mw.Actor(c)); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

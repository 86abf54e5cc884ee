package otp

import (
	"strings"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/model"
)

// Route picks the channel a contact receives codes on and the masked destination shown to users.
// The preferred channel is used when it is usable; otherwise email, then push.
func Route(c model.OwnerContact) (model.ContactChannel, string, error) {
	switch c.Channel {
	case model.ChannelEmail:
		if c.Email != "" {
			return model.ChannelEmail, MaskEmail(c.Email), nil
		}
	case model.ChannelPush:
		if c.HasPush() {
			return model.ChannelPush, maskEndpoint(c.Endpoint), nil
		}
	case model.ChannelLog:
		return model.ChannelLog, "log:" + maskTail(c.OwnerID, 2), nil
	}

	if c.Email != "" {
		return model.ChannelEmail, MaskEmail(c.Email), nil
	}
	if c.HasPush() {
		return model.ChannelPush, maskEndpoint(c.Endpoint), nil
	}
	return "", "", errs.ErrNoContactChannel
}

// MaskEmail keeps the first letter of the local part and the domain: a***@example.com.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

func maskEndpoint(endpoint string) string {
	if len(endpoint) <= 4 {
		return "push:…"
	}
	return "push:…" + endpoint[len(endpoint)-4:]
}

func maskTail(s string, keep int) string {
	if len(s) <= keep {
		return s
	}
	return s[:keep] + "***"
}

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/logging"
)

type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: wrapped errors can match more than one entry and the first match wins.
var errorMappings = []errorMapping{
	{errs.ErrValidateBadRequest, http.StatusBadRequest, "invalid_request"},
	{errs.ErrInvalidIdentifier, http.StatusBadRequest, "invalid_identifier"},
	{errs.ErrNotFound, http.StatusNotFound, "not_found"},
	{errs.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{errs.ErrIdentifierTaken, http.StatusConflict, "identifier_taken"},
	{errs.ErrDeviceNotTransferable, http.StatusConflict, "device_not_transferable"},
	{errs.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{errs.ErrOwnershipMismatch, http.StatusConflict, "ownership_mismatch"},
	{errs.ErrAttemptAlreadyTerminal, http.StatusConflict, "attempt_terminal"},
	{errs.ErrStepOutOfOrder, http.StatusConflict, "step_out_of_order"},
	{errs.ErrVersionConflict, http.StatusConflict, "conflict"},
	{errs.ErrOTPRejected, http.StatusUnprocessableEntity, "otp_rejected"},
	{errs.ErrMissingReason, http.StatusUnprocessableEntity, "missing_reason"},
	{errs.ErrInvalidRecipient, http.StatusUnprocessableEntity, "invalid_recipient"},
	{errs.ErrOTPExpired, http.StatusGone, "otp_expired"},
	{errs.ErrAttemptExpired, http.StatusGone, "attempt_expired"},
	{errs.ErrOTPExhausted, http.StatusTooManyRequests, "otp_exhausted"},
	{errs.ErrResendLimit, http.StatusTooManyRequests, "resend_limit"},
	{errs.ErrNoContactChannel, http.StatusPreconditionFailed, "no_contact_channel"},
}

// writeError maps a service error to its status code and machine code.
func (h *Handler) writeError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.err) {
			continue
		}
		resp := errorResponse{Error: err.Error(), Code: m.code}
		var rejected *errs.OTPRejectedError
		if errors.As(err, &rejected) {
			resp.AttemptsRemaining = &rejected.Remaining
		}
		c.AbortWithStatusJSON(m.status, resp)
		return
	}

	logging.ConfigureLogger(c.Request.Context(), h.logger).Errorf("unhandled error on %s: %s", c.FullPath(), err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "invalid_request"})
}

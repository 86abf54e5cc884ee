package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidateBadRequest error = errors.New("struct validation error")

	ErrInvalidIdentifier error = errors.New("invalid device identifier")
	ErrNotFound          error = errors.New("not found")
	ErrIdentifierTaken   error = errors.New("identifier already registered to another device")
	ErrVersionConflict   error = errors.New("record was modified concurrently")

	ErrNotOwner              error = errors.New("actor is not the current owner")
	ErrDeviceNotTransferable error = errors.New("device status does not allow a transfer")
	ErrInvalidTransition     error = errors.New("status transition not allowed")
	ErrOwnershipMismatch     error = errors.New("device ownership changed since the transfer started")

	ErrOTPExpired   error = errors.New("one-time code expired")
	ErrOTPExhausted error = errors.New("one-time code attempts exhausted")
	ErrOTPRejected  error = errors.New("one-time code rejected")

	ErrMissingReason          error = errors.New("custom reason is required when reason code is other")
	ErrAttemptExpired         error = errors.New("transfer attempt expired")
	ErrAttemptAlreadyTerminal error = errors.New("transfer attempt already finished")
	ErrStepOutOfOrder         error = errors.New("transfer step not allowed in the current state")
	ErrInvalidRecipient       error = errors.New("transfer recipient is unknown or is the current owner")
	ErrNoContactChannel       error = errors.New("owner has no registered contact channel")
	ErrResendLimit            error = errors.New("one-time code resend limit reached")
)

// OTPRejectedError is a retriable rejection carrying the attempts left on the challenge.
type OTPRejectedError struct {
	Remaining int
}

func (e *OTPRejectedError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrOTPRejected, e.Remaining)
}

func (e *OTPRejectedError) Unwrap() error {
	return ErrOTPRejected
}

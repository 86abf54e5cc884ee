package model

import "time"

// TransferState is a step of the ownership transfer workflow.
type TransferState string

const (
	TransferInitiated        TransferState = "initiated"
	TransferChallengeIssued  TransferState = "challenge_issued"
	TransferIdentityVerified TransferState = "identity_verified"
	TransferReasonCollected  TransferState = "reason_collected"
	TransferCompleted        TransferState = "completed"
	TransferFailed           TransferState = "failed"
	TransferExpired          TransferState = "expired"
)

// Terminal reports whether the state can no longer change.
func (s TransferState) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed || s == TransferExpired
}

// ReasonCode is why the owner hands the device over.
type ReasonCode string

const (
	ReasonGift              ReasonCode = "gift"
	ReasonSold              ReasonCode = "sold"
	ReasonTransferOwnership ReasonCode = "transfer_ownership"
	ReasonOther             ReasonCode = "other"
)

// FailureReason records how a transfer attempt reached Failed or Expired.
type FailureReason string

const (
	FailureNone                 FailureReason = ""
	FailureOTPExpired           FailureReason = "otp_expired"
	FailureOTPExhausted         FailureReason = "otp_exhausted"
	FailureCancelled            FailureReason = "cancelled"
	FailureOwnershipMismatch    FailureReason = "ownership_mismatch"
	FailureAttemptExpired       FailureReason = "attempt_expired"
	FailureChallengeUnavailable FailureReason = "challenge_unavailable"
)

// TransferAttempt is one execution of the ownership handoff for a device.
// Terminal attempts are kept for audit and never deleted.
type TransferAttempt struct {
	ID               string        `gorm:"primaryKey;size:36" json:"id"`
	DeviceID         string        `gorm:"size:36;index;not null" json:"deviceId"`
	FromOwnerID      string        `gorm:"size:64;index;not null" json:"fromOwnerId"`
	ToOwnerEmailOrID string        `gorm:"size:254;not null" json:"toOwnerEmailOrId"`
	ToOwnerID        string        `gorm:"size:64;not null" json:"-"`
	ReasonCode       ReasonCode    `gorm:"size:32" json:"reasonCode,omitempty"`
	CustomReason     string        `gorm:"size:512" json:"customReason,omitempty"`
	State            TransferState `gorm:"size:32;not null;index" json:"state"`
	FailureReason    FailureReason `gorm:"size:32" json:"failureReason,omitempty"`
	ChallengeID      string        `gorm:"size:36" json:"-"`
	Resends          int           `gorm:"not null;default:0" json:"resends"`
	Version          int64         `gorm:"not null;default:1" json:"-"`
	CreatedAt        time.Time     `gorm:"not null" json:"createdAt"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updatedAt"`
	ExpiresAt        time.Time     `gorm:"not null;index" json:"expiresAt"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`
}

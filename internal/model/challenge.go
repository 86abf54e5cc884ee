package model

import "time"

// OTPChallenge is the one-time passcode bound to exactly one transfer attempt.
// Only a hash of the code is persisted.
type OTPChallenge struct {
	ID                string         `gorm:"primaryKey;size:36"`
	TransferAttemptID string         `gorm:"size:36;index;not null"`
	CodeHash          string         `gorm:"size:72;not null"`
	Code              string         `gorm:"-"` // plaintext, set only on the value returned by Issue
	Destination       string         `gorm:"size:128;not null"`
	Channel           ContactChannel `gorm:"size:16;not null"`
	IssuedAt          time.Time      `gorm:"not null"`
	ExpiresAt         time.Time      `gorm:"not null"`
	AttemptsRemaining int            `gorm:"not null"`
	Consumed          bool           `gorm:"not null;default:false"`
	ConsumedAt        *time.Time
	RevokedAt         *time.Time
	Version           int64 `gorm:"not null;default:1"`
}

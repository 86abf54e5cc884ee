package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/model"
)

// DeviceStore persists devices, their identifiers and their status history.
type DeviceStore interface {
	CreateDevice(ctx context.Context, dev *model.Device, event model.StatusEvent) error
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	FindDeviceByIdentifier(ctx context.Context, value string) (*model.Device, error)
	ListDevicesByOwner(ctx context.Context, ownerID string) ([]model.Device, error)
	UpdateDevice(ctx context.Context, dev *model.Device, events ...model.StatusEvent) error
	ListStatusEvents(ctx context.Context, deviceID string) ([]model.StatusEvent, error)
}

// AttemptStore persists transfer attempts.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, a *model.TransferAttempt) error
	GetAttempt(ctx context.Context, id string) (*model.TransferAttempt, error)
	UpdateAttempt(ctx context.Context, a *model.TransferAttempt) error
	ListStaleAttempts(ctx context.Context, now time.Time, limit int) ([]model.TransferAttempt, error)
	ListOpenAttemptsByDevice(ctx context.Context, deviceID string) ([]model.TransferAttempt, error)
}

// ChallengeStore persists OTP challenges.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c *model.OTPChallenge) error
	GetChallenge(ctx context.Context, id string) (*model.OTPChallenge, error)
	UpdateChallenge(ctx context.Context, c *model.OTPChallenge) error
}

// ContactStore persists the owner contact directory.
type ContactStore interface {
	UpsertContact(ctx context.Context, c *model.OwnerContact) error
	GetContact(ctx context.Context, ownerID string) (*model.OwnerContact, error)
	FindContactByEmail(ctx context.Context, email string) (*model.OwnerContact, error)
	DeleteContact(ctx context.Context, ownerID string) error
	ClearPushSubscription(ctx context.Context, ownerID, endpoint string) error
}

// Store defines the interface for all database operations.
// Updates of versioned records fail with errs.ErrVersionConflict when the stored version moved on.
type Store interface {
	DeviceStore
	AttemptStore
	ChallengeStore
	ContactStore
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.ErrNotFound
	}
	return err
}

// updateVersioned applies fields to the row with the given id only if its version still matches.
func updateVersioned(tx *gorm.DB, m any, id string, version int64, fields map[string]any) error {
	fields["version"] = version + 1
	res := tx.Model(m).Where("id = ? AND version = ?", id, version).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

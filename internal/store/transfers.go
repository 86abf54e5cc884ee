package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/model"
)

var terminalStates = []model.TransferState{
	model.TransferCompleted,
	model.TransferFailed,
	model.TransferExpired,
}

func (s *gormStore) CreateAttempt(ctx context.Context, a *model.TransferAttempt) error {
	if a.Version == 0 {
		a.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to create transfer attempt %s: %w", a.ID, err)
	}
	return nil
}

func (s *gormStore) GetAttempt(ctx context.Context, id string) (*model.TransferAttempt, error) {
	var a model.TransferAttempt
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// UpdateAttempt writes the mutable workflow fields with a version check.
func (s *gormStore) UpdateAttempt(ctx context.Context, a *model.TransferAttempt) error {
	err := updateVersioned(s.db.WithContext(ctx), &model.TransferAttempt{}, a.ID, a.Version, map[string]any{
		"reason_code":    a.ReasonCode,
		"custom_reason":  a.CustomReason,
		"state":          a.State,
		"failure_reason": a.FailureReason,
		"challenge_id":   a.ChallengeID,
		"resends":        a.Resends,
		"completed_at":   a.CompletedAt,
		"updated_at":     a.UpdatedAt,
	})
	if err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to update transfer attempt %s: %w", a.ID, err)
	}
	a.Version++
	return nil
}

// ListStaleAttempts returns non-terminal attempts whose absolute deadline has passed.
func (s *gormStore) ListStaleAttempts(ctx context.Context, now time.Time, limit int) ([]model.TransferAttempt, error) {
	var attempts []model.TransferAttempt
	q := s.db.WithContext(ctx).
		Where("state NOT IN ? AND expires_at <= ?", terminalStates, now).
		Order("expires_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale transfer attempts: %w", err)
	}
	return attempts, nil
}

// ListOpenAttemptsByDevice returns the non-terminal attempts of a device, oldest first.
func (s *gormStore) ListOpenAttemptsByDevice(ctx context.Context, deviceID string) ([]model.TransferAttempt, error) {
	var attempts []model.TransferAttempt
	if err := s.db.WithContext(ctx).
		Where("device_id = ? AND state NOT IN ?", deviceID, terminalStates).
		Order("created_at").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list open transfer attempts of device %s: %w", deviceID, err)
	}
	return attempts, nil
}

func (s *gormStore) CreateChallenge(ctx context.Context, c *model.OTPChallenge) error {
	if c.Version == 0 {
		c.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create challenge %s: %w", c.ID, err)
	}
	return nil
}

func (s *gormStore) GetChallenge(ctx context.Context, id string) (*model.OTPChallenge, error) {
	var c model.OTPChallenge
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// UpdateChallenge writes the attempt counter and usage flags with a version check.
func (s *gormStore) UpdateChallenge(ctx context.Context, c *model.OTPChallenge) error {
	err := updateVersioned(s.db.WithContext(ctx), &model.OTPChallenge{}, c.ID, c.Version, map[string]any{
		"attempts_remaining": c.AttemptsRemaining,
		"consumed":           c.Consumed,
		"consumed_at":        c.ConsumedAt,
		"revoked_at":         c.RevokedAt,
	})
	if err != nil {
		if errors.Is(err, errs.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to update challenge %s: %w", c.ID, err)
	}
	c.Version++
	return nil
}

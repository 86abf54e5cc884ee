package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/model"
)

// CreateDevice inserts a device, its identifiers and its first history entry in one transaction.
func (s *gormStore) CreateDevice(ctx context.Context, dev *model.Device, event model.StatusEvent) error {
	values := make([]string, 0, len(dev.Identifiers))
	for _, id := range dev.Identifiers {
		values = append(values, id.Value)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&model.DeviceIdentifier{}).Where("value IN ?", values).Count(&taken).Error; err != nil {
			return fmt.Errorf("failed to check identifiers: %w", err)
		}
		if taken > 0 {
			return errs.ErrIdentifierTaken
		}

		if dev.Version == 0 {
			dev.Version = 1
		}
		if err := tx.Create(dev).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errs.ErrIdentifierTaken
			}
			return fmt.Errorf("failed to create device %s: %w", dev.ID, err)
		}

		event.DeviceID = dev.ID
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("failed to record history for device %s: %w", dev.ID, err)
		}
		return nil
	})
	return err
}

// GetDevice loads a device with its identifiers.
func (s *gormStore) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	var dev model.Device
	if err := s.db.WithContext(ctx).Preload("Identifiers").First(&dev, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &dev, nil
}

// FindDeviceByIdentifier is an exact match on a normalized identifier value.
func (s *gormStore) FindDeviceByIdentifier(ctx context.Context, value string) (*model.Device, error) {
	var ident model.DeviceIdentifier
	if err := s.db.WithContext(ctx).First(&ident, "value = ?", value).Error; err != nil {
		return nil, notFound(err)
	}
	return s.GetDevice(ctx, ident.DeviceID)
}

// ListDevicesByOwner returns the devices currently owned by ownerID.
func (s *gormStore) ListDevicesByOwner(ctx context.Context, ownerID string) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.WithContext(ctx).Preload("Identifiers").
		Where("owner_id = ?", ownerID).
		Order("created_at").
		Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices of %s: %w", ownerID, err)
	}
	return devices, nil
}

// UpdateDevice writes owner, label and status with a version check and appends events,
// all or nothing. On success dev.Version is advanced.
func (s *gormStore) UpdateDevice(ctx context.Context, dev *model.Device, events ...model.StatusEvent) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateVersioned(tx, &model.Device{}, dev.ID, dev.Version, map[string]any{
			"owner_id":           dev.OwnerID,
			"label":              dev.Label,
			"status":             dev.Status,
			"pending_attempt_id": dev.PendingAttemptID,
			"updated_at":         dev.UpdatedAt,
		}); err != nil {
			if errors.Is(err, errs.ErrVersionConflict) {
				return err
			}
			return fmt.Errorf("failed to update device %s: %w", dev.ID, err)
		}

		if len(events) == 0 {
			return nil
		}
		for i := range events {
			events[i].DeviceID = dev.ID
		}
		if err := tx.Create(&events).Error; err != nil {
			return fmt.Errorf("failed to append history for device %s: %w", dev.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	dev.Version++
	return nil
}

// ListStatusEvents returns the history of a device, oldest first.
func (s *gormStore) ListStatusEvents(ctx context.Context, deviceID string) ([]model.StatusEvent, error) {
	var events []model.StatusEvent
	if err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("occurred_at, id").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list history of device %s: %w", deviceID, err)
	}
	return events, nil
}

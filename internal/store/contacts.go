package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"device-registry-backend/internal/model"
)

// UpsertContact creates or replaces the contact record of an owner.
func (s *gormStore) UpsertContact(ctx context.Context, c *model.OwnerContact) error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "phone", "channel", "endpoint", "p256dh", "auth", "updated_at"}),
	}).Create(c).Error; err != nil {
		return fmt.Errorf("failed to upsert contact of %s: %w", c.OwnerID, err)
	}
	return nil
}

func (s *gormStore) GetContact(ctx context.Context, ownerID string) (*model.OwnerContact, error) {
	var c model.OwnerContact
	if err := s.db.WithContext(ctx).First(&c, "owner_id = ?", ownerID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// FindContactByEmail matches case-insensitively; the oldest record wins.
func (s *gormStore) FindContactByEmail(ctx context.Context, email string) (*model.OwnerContact, error) {
	var c model.OwnerContact
	if err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Order("created_at").
		First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *gormStore) DeleteContact(ctx context.Context, ownerID string) error {
	if err := s.db.WithContext(ctx).Delete(&model.OwnerContact{OwnerID: ownerID}).Error; err != nil {
		return fmt.Errorf("failed to delete contact of %s: %w", ownerID, err)
	}
	return nil
}

// ClearPushSubscription drops an expired push subscription. Owners left without push fall back
// to email when one is registered.
func (s *gormStore) ClearPushSubscription(ctx context.Context, ownerID, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c model.OwnerContact
		if err := tx.First(&c, "owner_id = ? AND endpoint = ?", ownerID, endpoint).Error; err != nil {
			return notFound(err)
		}
		channel := c.Channel
		if channel == model.ChannelPush {
			channel = model.ChannelLog
			if c.Email != "" {
				channel = model.ChannelEmail
			}
		}
		return tx.Model(&c).Updates(map[string]any{
			"endpoint": "",
			"p256dh":   "",
			"auth":     "",
			"channel":  channel,
		}).Error
	})
}

package model

import "time"

// ContactChannel selects how one-time codes reach an owner.
type ContactChannel string

const (
	ChannelEmail ContactChannel = "email"
	ChannelPush  ContactChannel = "push"
	ChannelLog   ContactChannel = "log"
)

// OwnerContact holds the registered contact channel of an account.
type OwnerContact struct {
	OwnerID   string         `gorm:"primaryKey;size:64"`
	Email     string         `gorm:"size:254;index"`
	Phone     string         `gorm:"size:32"`
	Channel   ContactChannel `gorm:"size:16;not null"`
	Endpoint  string         `gorm:"size:512"`
	P256DH    string         `gorm:"column:p256dh;size:128"`
	Auth      string         `gorm:"size:64"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// HasPush reports whether a browser push subscription is registered.
func (c OwnerContact) HasPush() bool {
	return c.Endpoint != "" && c.P256DH != "" && c.Auth != ""
}

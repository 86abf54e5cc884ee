package model

import "time"

// DeviceStatus is the registry-wide lifecycle status of a device.
type DeviceStatus string

const (
	DeviceActive          DeviceStatus = "active"
	DeviceReportedMissing DeviceStatus = "reported_missing"
	DeviceReportedStolen  DeviceStatus = "reported_stolen"
	DeviceTransferPending DeviceStatus = "transfer_pending"
	DeviceTransferred     DeviceStatus = "transferred"
)

// IdentifierKind tells how a raw hardware identifier is normalized.
type IdentifierKind string

const (
	KindIMEI   IdentifierKind = "imei"
	KindSerial IdentifierKind = "serial"
)

// IdentifierSlot names the position an identifier occupies on its device.
type IdentifierSlot string

const (
	SlotIMEI   IdentifierSlot = "imei"
	SlotIMEI2  IdentifierSlot = "imei2"
	SlotSerial IdentifierSlot = "serial"
)

// Device is a registered physical device. Status and OwnerID are changed only by the registry.
type Device struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string       `gorm:"size:64;index" json:"ownerId"`
	Label     string       `gorm:"size:128" json:"label"`
	Status    DeviceStatus `gorm:"size:32;not null;index" json:"status"`
	Version   int64        `gorm:"not null;default:1" json:"-"`
	CreatedAt time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time    `gorm:"not null" json:"updatedAt"`

	// PendingAttemptID is the transfer attempt holding the transfer_pending lock, empty otherwise.
	PendingAttemptID string `gorm:"size:36" json:"-"`

	// Associations
	Identifiers []DeviceIdentifier `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"identifiers"`
}

// DeviceIdentifier is one normalized hardware identifier. Value is unique across the registry.
type DeviceIdentifier struct {
	Value    string         `gorm:"primaryKey;size:64" json:"value"`
	Kind     IdentifierKind `gorm:"size:16;not null" json:"kind"`
	Slot     IdentifierSlot `gorm:"size:16;not null" json:"slot"`
	DeviceID string         `gorm:"size:36;index;not null" json:"-"`
}

// StatusEvent is one append-only entry of a device's status history.
type StatusEvent struct {
	ID         int64        `gorm:"primaryKey;autoIncrement" json:"-"`
	DeviceID   string       `gorm:"size:36;index;not null" json:"-"`
	Status     DeviceStatus `gorm:"size:32;not null" json:"status"`
	ActorID    string       `gorm:"size:64;not null" json:"actorId"`
	Note       string       `gorm:"size:512" json:"note,omitempty"`
	OccurredAt time.Time    `gorm:"not null;index" json:"occurredAt"`
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/identifier"
	"device-registry-backend/internal/keylock"
	"device-registry-backend/internal/logging"
	"device-registry-backend/internal/model"
	"device-registry-backend/internal/store"
)

var registryValidate = validator.New()

// Registry is the single writer of device status and ownership.
// Writes to one device are serialized; reads never take the device lock.
type Registry struct {
	store  store.DeviceStore
	locks  *keylock.Locker
	logger *logrus.Entry
	now    func() time.Time
}

// New creates a Registry backed by the given store.
func New(s store.DeviceStore, logger *logrus.Entry) *Registry {
	return &Registry{
		store:  s,
		locks:  keylock.New(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type RegisterInput struct {
	OwnerID string `validate:"required,max=64"`
	Label   string `validate:"max=128"`
	IMEI    string
	IMEI2   string `validate:"excluded_without=IMEI"`
	Serial  string `validate:"required_without=IMEI"`
}

// StatusChange is a status transition with optional preconditions.
// ExpectedOwnerID, ExpectedStatus and ExpectedAttemptID, when set, must match the stored device.
// AttemptID names the transfer taking the lock when Status is transfer_pending.
type StatusChange struct {
	DeviceID          string             `validate:"required"`
	Status            model.DeviceStatus `validate:"required"`
	ActorID           string             `validate:"required"`
	Note              string             `validate:"max=512"`
	AttemptID         string             `validate:"required_if=Status transfer_pending"`
	ExpectedOwnerID   string
	ExpectedStatus    model.DeviceStatus
	ExpectedAttemptID string
}

type ReportInput struct {
	DeviceID string             `validate:"required"`
	ActorID  string             `validate:"required"`
	Status   model.DeviceStatus `validate:"required"`
	Note     string             `validate:"max=512"`
}

// Register normalizes the identifiers of a new device and stores it as active.
func (r *Registry) Register(ctx context.Context, input RegisterInput) (*model.Device, error) {
	lFunc := logging.ConfigureLogger(ctx, r.logger)

	if err := registryValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	var idents []model.DeviceIdentifier
	seen := map[string]bool{}
	add := func(raw string, kind model.IdentifierKind, slot model.IdentifierSlot) error {
		if raw == "" {
			return nil
		}
		v, err := identifier.Normalize(raw, kind)
		if err != nil {
			return err
		}
		if seen[v] {
			return fmt.Errorf("%w: %s repeats another identifier of the device", errs.ErrInvalidIdentifier, slot)
		}
		seen[v] = true
		idents = append(idents, model.DeviceIdentifier{Value: v, Kind: kind, Slot: slot})
		return nil
	}
	if err := add(input.IMEI, model.KindIMEI, model.SlotIMEI); err != nil {
		return nil, err
	}
	if err := add(input.IMEI2, model.KindIMEI, model.SlotIMEI2); err != nil {
		return nil, err
	}
	if err := add(input.Serial, model.KindSerial, model.SlotSerial); err != nil {
		return nil, err
	}

	now := r.now()
	dev := &model.Device{
		ID:          uuid.NewString(),
		OwnerID:     input.OwnerID,
		Label:       input.Label,
		Status:      model.DeviceActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		Identifiers: idents,
	}
	event := model.StatusEvent{Status: model.DeviceActive, ActorID: input.OwnerID, Note: "registered", OccurredAt: now}

	if err := r.store.CreateDevice(ctx, dev, event); err != nil {
		lFunc.Errorf("could not register device for %s: %s", input.OwnerID, err)
		return nil, err
	}
	lFunc.Infof("registered device %s for owner %s", dev.ID, dev.OwnerID)
	return dev, nil
}

// Lookup finds a device by exact match on the normalized form of raw.
func (r *Registry) Lookup(ctx context.Context, raw string) (*model.Device, error) {
	v, _, err := identifier.Detect(raw)
	if err != nil {
		return nil, err
	}
	return r.store.FindDeviceByIdentifier(ctx, v)
}

func (r *Registry) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	return r.store.GetDevice(ctx, deviceID)
}

// GetOwned returns the device only if actorID currently owns it.
func (r *Registry) GetOwned(ctx context.Context, deviceID, actorID string) (*model.Device, error) {
	dev, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.OwnerID != actorID {
		return nil, errs.ErrNotOwner
	}
	return dev, nil
}

func (r *Registry) ListByOwner(ctx context.Context, ownerID string) ([]model.Device, error) {
	return r.store.ListDevicesByOwner(ctx, ownerID)
}

// History returns the status history of a device owned by actorID, oldest first.
func (r *Registry) History(ctx context.Context, deviceID, actorID string) ([]model.StatusEvent, error) {
	if _, err := r.GetOwned(ctx, deviceID, actorID); err != nil {
		return nil, err
	}
	return r.store.ListStatusEvents(ctx, deviceID)
}

// SetStatus applies one transition of the status table and records it in the history.
func (r *Registry) SetStatus(ctx context.Context, change StatusChange) (*model.Device, error) {
	lFunc := logging.ConfigureLogger(ctx, r.logger)

	if err := registryValidate.Struct(change); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	unlock := r.locks.Lock(change.DeviceID)
	defer unlock()

	dev, err := r.store.GetDevice(ctx, change.DeviceID)
	if err != nil {
		return nil, err
	}
	if change.ExpectedOwnerID != "" && dev.OwnerID != change.ExpectedOwnerID {
		return nil, errs.ErrOwnershipMismatch
	}
	if change.ExpectedStatus != "" && dev.Status != change.ExpectedStatus {
		return nil, fmt.Errorf("%w: device is %s, expected %s", errs.ErrInvalidTransition, dev.Status, change.ExpectedStatus)
	}
	if change.ExpectedAttemptID != "" && dev.PendingAttemptID != change.ExpectedAttemptID {
		return nil, fmt.Errorf("%w: pending lock is not held by transfer %s", errs.ErrOwnershipMismatch, change.ExpectedAttemptID)
	}
	if !CanTransition(dev.Status, change.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, dev.Status, change.Status)
	}

	now := r.now()
	from := dev.Status
	dev.Status = change.Status
	dev.PendingAttemptID = ""
	if change.Status == model.DeviceTransferPending {
		dev.PendingAttemptID = change.AttemptID
	}
	dev.UpdatedAt = now
	err = r.store.UpdateDevice(ctx, dev, model.StatusEvent{
		Status:     change.Status,
		ActorID:    change.ActorID,
		Note:       change.Note,
		OccurredAt: now,
	})
	if err != nil {
		return nil, r.conflict(err, errs.ErrInvalidTransition)
	}

	lFunc.Infof("device %s status %s -> %s by %s", dev.ID, from, dev.Status, change.ActorID)
	return dev, nil
}

// Report lets the owner mark a device missing or stolen, or recover it to active.
// A missing or stolen report on a device with an open transfer aborts the pending lock in the
// same write. An open transfer is ended through the workflow's cancel, not an active report.
func (r *Registry) Report(ctx context.Context, input ReportInput) (*model.Device, error) {
	lFunc := logging.ConfigureLogger(ctx, r.logger)

	if err := registryValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}
	if !Reportable(input.Status) {
		return nil, fmt.Errorf("%w: %s cannot be reported", errs.ErrInvalidTransition, input.Status)
	}

	unlock := r.locks.Lock(input.DeviceID)
	defer unlock()

	dev, err := r.store.GetDevice(ctx, input.DeviceID)
	if err != nil {
		return nil, err
	}
	if dev.OwnerID != input.ActorID {
		return nil, errs.ErrNotOwner
	}

	if dev.Status == model.DeviceTransferPending && input.Status == model.DeviceActive {
		return nil, fmt.Errorf("%w: device has an open transfer, cancel it instead", errs.ErrInvalidTransition)
	}

	now := r.now()
	var events []model.StatusEvent
	current := dev.Status
	if current == model.DeviceTransferPending {
		events = append(events, model.StatusEvent{
			Status:     model.DeviceActive,
			ActorID:    input.ActorID,
			Note:       "pending transfer aborted by report",
			OccurredAt: now,
		})
		current = model.DeviceActive
	}
	if !CanTransition(current, input.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", errs.ErrInvalidTransition, dev.Status, input.Status)
	}
	events = append(events, model.StatusEvent{
		Status:     input.Status,
		ActorID:    input.ActorID,
		Note:       input.Note,
		OccurredAt: now,
	})

	from := dev.Status
	dev.Status = input.Status
	dev.PendingAttemptID = ""
	dev.UpdatedAt = now
	if err := r.store.UpdateDevice(ctx, dev, events...); err != nil {
		return nil, r.conflict(err, errs.ErrInvalidTransition)
	}

	lFunc.Infof("device %s reported %s (was %s) by %s", dev.ID, dev.Status, from, input.ActorID)
	return dev, nil
}

// TransferOwnership hands a device locked by attemptID from one owner to another. The owner change,
// the transferred entry and the activation under the new owner are written together or not at all.
func (r *Registry) TransferOwnership(ctx context.Context, deviceID, attemptID, fromOwnerID, toOwnerID string) (*model.Device, error) {
	lFunc := logging.ConfigureLogger(ctx, r.logger)

	unlock := r.locks.Lock(deviceID)
	defer unlock()

	dev, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.OwnerID != fromOwnerID {
		return nil, fmt.Errorf("%w: owner is no longer %s", errs.ErrOwnershipMismatch, fromOwnerID)
	}
	if dev.Status != model.DeviceTransferPending {
		return nil, fmt.Errorf("%w: device is %s", errs.ErrOwnershipMismatch, dev.Status)
	}
	if dev.PendingAttemptID != attemptID {
		return nil, fmt.Errorf("%w: pending lock is held by another transfer", errs.ErrOwnershipMismatch)
	}

	now := r.now()
	dev.OwnerID = toOwnerID
	dev.Status = model.DeviceActive
	dev.PendingAttemptID = ""
	dev.UpdatedAt = now
	err = r.store.UpdateDevice(ctx, dev,
		model.StatusEvent{Status: model.DeviceTransferred, ActorID: fromOwnerID, Note: "ownership transferred", OccurredAt: now},
		model.StatusEvent{Status: model.DeviceActive, ActorID: toOwnerID, Note: "activated by new owner", OccurredAt: now},
	)
	if err != nil {
		return nil, r.conflict(err, errs.ErrOwnershipMismatch)
	}

	lFunc.Infof("device %s transferred from %s to %s", dev.ID, fromOwnerID, toOwnerID)
	return dev, nil
}

// conflict reports a lost optimistic-concurrency race as the caller-facing error.
func (r *Registry) conflict(err error, as error) error {
	if errors.Is(err, errs.ErrVersionConflict) {
		return fmt.Errorf("%w: %w", as, err)
	}
	return err
}

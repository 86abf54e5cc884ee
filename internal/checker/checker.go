package checker

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/logging"
	"device-registry-backend/internal/model"
)

// PublicStatus is the coarse status shown to anonymous callers.
type PublicStatus string

const (
	StatusActive          PublicStatus = "active"
	StatusReportedMissing PublicStatus = "reported_missing"
	StatusReportedStolen  PublicStatus = "reported_stolen"
	StatusUnknown         PublicStatus = "unknown"
)

// Result never carries owner, history or contact data.
type Result struct {
	Registered bool         `json:"registered"`
	Status     PublicStatus `json:"status"`
}

// Lookup reads the latest committed device state without taking write locks.
type Lookup interface {
	Lookup(ctx context.Context, raw string) (*model.Device, error)
}

type Checker struct {
	registry Lookup
	logger   *logrus.Entry
}

func New(registry Lookup, logger *logrus.Entry) *Checker {
	return &Checker{registry: registry, logger: logger}
}

// CheckStatus answers whether a device is registered and whether it is reported missing or stolen.
// Devices in the middle of a transfer read as active.
func (c *Checker) CheckStatus(ctx context.Context, raw string) (Result, error) {
	dev, err := c.registry.Lookup(ctx, raw)
	if errors.Is(err, errs.ErrNotFound) {
		return Result{Registered: false, Status: StatusUnknown}, nil
	}
	if err != nil {
		if !errors.Is(err, errs.ErrInvalidIdentifier) {
			logging.ConfigureLogger(ctx, c.logger).Errorf("status lookup failed: %s", err)
		}
		return Result{}, err
	}
	return Result{Registered: true, Status: publicStatus(dev.Status)}, nil
}

func publicStatus(s model.DeviceStatus) PublicStatus {
	switch s {
	case model.DeviceReportedMissing:
		return StatusReportedMissing
	case model.DeviceReportedStolen:
		return StatusReportedStolen
	case model.DeviceActive, model.DeviceTransferPending, model.DeviceTransferred:
		return StatusActive
	}
	return StatusUnknown
}

package checker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"device-registry-backend/internal/errs"
	"device-registry-backend/internal/identifier"
	"device-registry-backend/internal/logging"
	"device-registry-backend/internal/model"
)

// mockLookup is a mock implementation of the Lookup interface keyed by normalized identifier.
type mockLookup struct {
	devices map[string]*model.Device
	err     error
}

func (m *mockLookup) Lookup(ctx context.Context, raw string) (*model.Device, error) {
	if m.err != nil {
		return nil, m.err
	}
	v, _, err := identifier.Detect(raw)
	if err != nil {
		return nil, err
	}
	dev, ok := m.devices[v]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return dev, nil
}

func TestChecker_CheckStatus(t *testing.T) {
	lookup := &mockLookup{devices: map[string]*model.Device{
		"123456789012345": {ID: "d1", OwnerID: "alice", Status: model.DeviceReportedStolen},
		"490154203237518": {ID: "d2", OwnerID: "alice", Status: model.DeviceTransferPending},
		"C02XK1ZZJG5H":    {ID: "d3", OwnerID: "bob", Status: model.DeviceReportedMissing},
		"356938035643809": {ID: "d4", OwnerID: "bob", Status: model.DeviceTransferred},
		"ABCD1234":        {ID: "d5", OwnerID: "carol", Status: model.DeviceActive},
	}}
	c := New(lookup, logging.SetupLogger("error", "checker"))

	testCases := []struct {
		name     string
		raw      string
		expected Result
	}{
		{"Stolen", "123-456-789-012-345", Result{Registered: true, Status: StatusReportedStolen}},
		{"Mid-transfer reads as active", "490154203237518", Result{Registered: true, Status: StatusActive}},
		{"Missing", "c02xk1zzjg5h", Result{Registered: true, Status: StatusReportedMissing}},
		{"Transferred reads as active", "356938035643809", Result{Registered: true, Status: StatusActive}},
		{"Active", "abcd-1234", Result{Registered: true, Status: StatusActive}},
		{"Not registered", "000000000000000", Result{Registered: false, Status: StatusUnknown}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.CheckStatus(context.Background(), tc.raw)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestChecker_InvalidInput(t *testing.T) {
	c := New(&mockLookup{}, logging.SetupLogger("error", "checker"))
	_, err := c.CheckStatus(context.Background(), "%%")
	assert.ErrorIs(t, err, errs.ErrInvalidIdentifier)
}

func TestChecker_StoreFailure(t *testing.T) {
	c := New(&mockLookup{err: errors.New("connection reset")}, logging.SetupLogger("error", "checker"))
	_, err := c.CheckStatus(context.Background(), "123456789012345")
	assert.Error(t, err)
}

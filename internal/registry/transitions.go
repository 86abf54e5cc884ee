package registry

import "device-registry-backend/internal/model"

// allowedTransitions is the complete status table; anything missing is rejected.
var allowedTransitions = map[model.DeviceStatus][]model.DeviceStatus{
	model.DeviceActive:          {model.DeviceReportedMissing, model.DeviceReportedStolen, model.DeviceTransferPending},
	model.DeviceReportedMissing: {model.DeviceActive, model.DeviceReportedStolen},
	model.DeviceReportedStolen:  {model.DeviceActive},
	model.DeviceTransferPending: {model.DeviceActive, model.DeviceTransferred},
	model.DeviceTransferred:     {model.DeviceActive},
}

// CanTransition reports whether a device may move from one status to another.
func CanTransition(from, to model.DeviceStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reportable reports whether an owner may report the given status directly.
func Reportable(s model.DeviceStatus) bool {
	switch s {
	case model.DeviceActive, model.DeviceReportedMissing, model.DeviceReportedStolen:
		return true
	}
	return false
}

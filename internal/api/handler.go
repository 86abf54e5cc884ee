package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"device-registry-backend/internal/checker"
	"device-registry-backend/internal/registry"
	"device-registry-backend/internal/store"
	"device-registry-backend/internal/transfer"
)

// Services are the collaborators the HTTP surface drives.
type Services struct {
	Registry *registry.Registry
	Workflow *transfer.Workflow
	Checker  *checker.Checker
	Contacts store.ContactStore
	WebPush  *webpush.Options
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	registry *registry.Registry
	workflow *transfer.Workflow
	checker  *checker.Checker
	contacts store.ContactStore
	webpush  *webpush.Options
	logger   *logrus.Entry
}

// NewHandler creates a new API handler.
func NewHandler(s Services, logger *logrus.Entry) *Handler {
	return &Handler{
		registry: s.Registry,
		workflow: s.Workflow,
		checker:  s.Checker,
		contacts: s.Contacts,
		webpush:  s.WebPush,
		logger:   logger,
	}
}

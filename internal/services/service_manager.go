package services

import (
	"log/slog"

	"github.com/SAP-F-2025/live-session-service/internal/events"
	"github.com/SAP-F-2025/live-session-service/internal/realtime"
	"github.com/SAP-F-2025/live-session-service/internal/repositories"
	"github.com/SAP-F-2025/live-session-service/internal/session"
	"github.com/SAP-F-2025/live-session-service/internal/validator"
)

// ServiceManager hands the handlers their services
type ServiceManager interface {
	Session() SessionService
	Entitlement() EntitlementService
	Export() ExportService
}

type serviceManager struct {
	session     SessionService
	entitlement EntitlementService
	export      ExportService
}

// ServiceDeps are the infrastructure pieces the services are built from.
type ServiceDeps struct {
	Repo      repositories.Repository
	Store     session.Store
	Rooms     Rooms
	Presence  realtime.Presence
	Publisher events.EventPublisher
	Validator *validator.Validator
	Options   SessionOptions
	Logger    *slog.Logger
}

func NewServiceManager(deps ServiceDeps) ServiceManager {
	entitlement := NewEntitlementService(deps.Repo, deps.Logger, deps.Options.RetryBackoff)
	return &serviceManager{
		entitlement: entitlement,
		session: NewSessionService(
			deps.Repo,
			entitlement,
			deps.Store,
			deps.Rooms,
			deps.Presence,
			deps.Publisher,
			deps.Options,
			deps.Logger,
		),
		export: NewExportService(deps.Repo, deps.Validator, deps.Logger),
	}
}

func (m *serviceManager) Session() SessionService         { return m.session }
func (m *serviceManager) Entitlement() EntitlementService { return m.entitlement }
func (m *serviceManager) Export() ExportService           { return m.export }

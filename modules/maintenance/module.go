package maintenance

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/lifecycle"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/sla"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/handlers"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/infrastructure/memory"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/infrastructure/persistence"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/presentation/controllers"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/services"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/ws"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type ModuleOptions struct {
	// Backend is postgres or memory. Empty means postgres.
	Backend     string
	Policies    *sla.Table
	Locator     dispatch.Locator
	OutboxTable pgx.Identifier
	Gateway     handlers.NotificationGateway
	Retry       services.RetryPolicy

	DispatchAttempts int
	SearchRadiusKm   float64
	DefaultCapacity  int

	// Tracking mounts the signed GPS webhook when Secret is set.
	Tracking controllers.TrackingWebhookOptions
	// StreamOrigins are the browser origins allowed on the live stream.
	// Empty means same-origin only.
	StreamOrigins []string
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	opts := m.options
	machine, err := lifecycle.NewDefaultMachine(app.Logger())
	if err != nil {
		return err
	}
	policies := opts.Policies
	if policies == nil {
		policies = sla.DefaultTable()
	}

	var repos services.Repositories
	var sink services.EventSink
	switch opts.Backend {
	case BackendMemory:
		store := memory.New(
			memory.WithEventBus(app.EventPublisher()),
			memory.WithLogger(logrus.NewEntry(app.Logger())),
		)
		repos = services.Repositories{
			Requests:    store.Requests(),
			Technicians: store.Technicians(),
			Audit:       store.Audit(),
			Tx:          store,
		}
		sink = store.Events()
	case "", BackendPostgres:
		if len(opts.OutboxTable) == 0 {
			return errors.New("maintenance: postgres backend requires an outbox table")
		}
		app.Migrations().RegisterSchema(persistence.MigrationsFS, persistence.MigrationsDir)
		repos = services.Repositories{
			Requests:    persistence.NewRequestRepository(),
			Technicians: persistence.NewTechnicianRepository(),
			Audit:       persistence.NewAuditRepository(),
			Tx:          persistence.NewTransactor(),
		}
		sink = persistence.NewOutboxSink(opts.OutboxTable)
	default:
		return errors.New("maintenance: unknown backend " + opts.Backend)
	}

	svcOpts := []services.Option{
		services.WithEventSink(sink),
		services.WithDispatchAttempts(opts.DispatchAttempts),
		services.WithSearchRadius(opts.SearchRadiusKm),
		services.WithDefaultCapacity(opts.DefaultCapacity),
	}
	if opts.Locator != nil {
		svcOpts = append(svcOpts, services.WithLocator(opts.Locator))
	}
	app.RegisterServices(services.NewRequestService(repos, machine, policies, svcOpts...))

	var ctrlOpts []controllers.ControllerOption
	if opts.Retry.Attempts > 0 {
		ctrlOpts = append(ctrlOpts, controllers.WithRetryPolicy(opts.Retry))
	}
	app.RegisterControllers(controllers.NewMaintenanceAPIController(app, ctrlOpts...))
	if opts.Tracking.Secret != "" {
		app.RegisterControllers(controllers.NewTrackingWebhookController(app, opts.Tracking))
	}

	hubOpts := ws.HubOptions{Logger: logrus.NewEntry(app.Logger()).WithField("component", "maintenance.stream")}
	if len(opts.StreamOrigins) > 0 {
		hubOpts.CheckOrigin = ws.AllowOrigins(opts.StreamOrigins...)
	}
	stream := controllers.NewStreamController(hubOpts)
	app.RegisterControllers(stream)
	handlers.RegisterStreamHandlers(app, stream.Hub())

	gateway := opts.Gateway
	if gateway == nil {
		gateway = handlers.NewLoggingGateway(app.Logger())
	}
	handlers.RegisterNotificationHandlers(app, gateway)
	return nil
}

func (m *Module) Name() string {
	return "maintenance"
}

package application

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/eventbus"
)

type ApplicationOptions struct {
	// Pool is nil when the process runs on the in-memory store.
	Pool     *pgxpool.Pool
	EventBus eventbus.EventBusWithError
	Logger   *logrus.Logger
}

func New(opts *ApplicationOptions) Application {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	bus := opts.EventBus
	if bus == nil {
		bus = eventbus.NewEventPublisher(logger)
	}
	return &application{
		pool:           opts.Pool,
		logger:         logger,
		eventPublisher: bus,
		controllers:    make(map[string]Controller),
		services:       make(map[reflect.Type]interface{}),
		migrations:     NewMigrationManager(opts.Pool, logger),
	}
}

// application with a dynamically extendable service registry
type application struct {
	pool           *pgxpool.Pool
	logger         *logrus.Logger
	eventPublisher eventbus.EventBusWithError
	services       map[reflect.Type]interface{}
	controllers    map[string]Controller
	middleware     []mux.MiddlewareFunc
	migrations     MigrationManager
}

func (app *application) Middleware() []mux.MiddlewareFunc {
	return app.middleware
}

func (app *application) DB() *pgxpool.Pool {
	return app.pool
}

func (app *application) Logger() *logrus.Logger {
	return app.logger
}

func (app *application) EventPublisher() eventbus.EventBusWithError {
	return app.eventPublisher
}

// Controllers returns the registered controllers ordered by key.
func (app *application) Controllers() []Controller {
	keys := make([]string, 0, len(app.controllers))
	for k := range app.controllers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	controllers := make([]Controller, 0, len(keys))
	for _, k := range keys {
		controllers = append(controllers, app.controllers[k])
	}
	return controllers
}

func (app *application) Migrations() MigrationManager {
	return app.migrations
}

func (app *application) RegisterControllers(controllers ...Controller) {
	for _, c := range controllers {
		app.controllers[c.Key()] = c
	}
}

func (app *application) RegisterMiddleware(middleware ...mux.MiddlewareFunc) {
	app.middleware = append(app.middleware, middleware...)
}

// RegisterServices registers a new service in the application by its type
func (app *application) RegisterServices(services ...interface{}) {
	for _, service := range services {
		serviceType := reflect.TypeOf(service).Elem()
		app.services[serviceType] = service
	}
}

// Service retrieves a service by its type
func (app *application) Service(service interface{}) interface{} {
	serviceType := reflect.TypeOf(service)
	svc, exists := app.services[serviceType]
	if !exists {
		panic(fmt.Sprintf("service %s not found", serviceType.Name()))
	}
	return svc
}

func (app *application) Services() map[reflect.Type]interface{} {
	return app.services
}

// LoadModules registers modules in order and stops at the first failure.
func LoadModules(app Application, modules ...Module) error {
	for _, m := range modules {
		if err := m.Register(app); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name(), err)
		}
		app.Logger().WithField("module", m.Name()).Debug("module registered")
	}
	return nil
}

package application

import (
	"context"
	"io/fs"
	"reflect"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/eventbus"
)

type Controller interface {
	Register(r *mux.Router)
	Key() string
}

type Module interface {
	Register(app Application) error
	Name() string
}

// MigrationManager applies the SQL schemas modules register.
type MigrationManager interface {
	RegisterSchema(fsys fs.FS, dir string)
	Run(ctx context.Context) error
	Rollback(ctx context.Context) error
	Status(ctx context.Context) ([]MigrationStatus, error)
}

// Application is the registry modules plug their services, controllers and
// middleware into.
type Application interface {
	DB() *pgxpool.Pool
	Logger() *logrus.Logger
	EventPublisher() eventbus.EventBusWithError
	Controllers() []Controller
	Middleware() []mux.MiddlewareFunc
	Migrations() MigrationManager
	RegisterControllers(controllers ...Controller)
	RegisterMiddleware(middleware ...mux.MiddlewareFunc)
	RegisterServices(services ...interface{})
	Service(service interface{}) interface{}
	Services() map[reflect.Type]interface{}
}

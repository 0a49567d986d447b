package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/configuration"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/httpapi"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/intl"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/metrics"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/middleware"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
	Pool          *pgxpool.Pool
}

func Default(options *DefaultOptions) (*server.HTTPServer, error) {
	app := options.Application
	conf := options.Configuration

	loggerOpts := middleware.DefaultLoggerOptions()
	loggerOpts.RequestIDHeader = conf.RequestIDHeader
	loggerOpts.RealIPHeader = conf.RealIPHeader

	// WithLogger creates the root span for each request.
	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, loggerOpts),

		middleware.TracedMiddleware("locale"),
		middleware.WithLocale(intl.Tags(intl.GetSupportedLanguages(conf.SupportedLanguages))),

		middleware.TracedMiddleware("database"),
		middleware.WithPool(options.Pool),

		middleware.TracedMiddleware("cors"),
		middleware.Cors(conf.CORS.AllowedOrigins...),

		middleware.TracedMiddleware("opsGuard"),
		middleware.OpsGuard(middleware.OpsGuardOptions{
			Enabled:       conf.OpsGuard.Enabled,
			PathPrefixes:  []string{"/debug/"},
			CIDRs:         conf.OpsGuard.CIDRs,
			Token:         conf.OpsGuard.Token,
			BasicAuthUser: conf.OpsGuard.BasicAuthUser,
			BasicAuthPass: conf.OpsGuard.BasicAuthPass,
			RealIPHeader:  conf.RealIPHeader,
		}),
	}

	if conf.RateLimit.Enabled {
		var store limiter.Store
		var err error

		switch conf.RateLimit.Storage {
		case "redis":
			store, err = middleware.NewRedisStore(conf.RateLimit.RedisURL)
			if err != nil {
				options.Logger.WithError(err).Warn("Failed to create Redis store for rate limiting, falling back to memory")
				store = middleware.NewMemoryStore()
			}
		default:
			store = middleware.NewMemoryStore()
		}

		middlewares = append(middlewares,
			middleware.TracedMiddleware("rateLimit"),
			middleware.RateLimit(middleware.RateLimitConfig{
				RequestsPerPeriod: conf.RateLimit.GlobalRPS,
				Store:             store,
			}),
		)
	}

	middlewares = append(middlewares,
		middleware.TracedMiddleware("replay"),
		middleware.ReplayProtection(middleware.ReplayProtectionOptions{
			PathPrefixes: []string{"/maintenance/api/requests"},
		}),
	)

	app.RegisterMiddleware(middlewares...)
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewScrapeController(conf.Prometheus.Path))
	}

	return server.NewHTTPServer(app, NotFound(), MethodNotAllowed()), nil
}

func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httpapi.WriteError(w, http.StatusNotFound, httpapi.CodeNotFound, "route not found", requestMeta(r))
	})
}

func MethodNotAllowed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = httpapi.WriteError(w, http.StatusMethodNotAllowed, httpapi.CodeMethodNotAllowed, "method not allowed", requestMeta(r))
	})
}

func requestMeta(r *http.Request) map[string]string {
	meta := map[string]string{"path": r.URL.Path}
	if id := composables.UseRequestID(r.Context()); id != "" {
		meta[httpapi.MetaRequestID] = id
	}
	return meta
}

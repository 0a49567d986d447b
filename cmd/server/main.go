package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/AlazabDev/UberFix.shop-sub000/internal/server"
	"github.com/AlazabDev/UberFix.shop-sub000/modules"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/sla"
	maintenanceoutbox "github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/infrastructure/outbox"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/infrastructure/redisgeo"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/presentation/controllers"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/services"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/configuration"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/eventbus"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/logging"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	policies, err := sla.Load(conf.SLA.PolicyPath)
	if err != nil {
		log.Fatalf("failed to load SLA policies: %v", err)
	}
	for _, warning := range policies.Check() {
		logger.WithField("component", "sla").Warn(warning)
	}

	var pool *pgxpool.Pool
	var outboxTable pgx.Identifier
	if conf.StorageBackend == configuration.StorageBackendPostgres {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err = pgxpool.New(connectCtx, conf.Database.Opts)
		cancel()
		if err != nil {
			panic(err)
		}
		defer pool.Close()
		if outboxTable, err = outbox.ParseIdentifier(conf.Outbox.Table); err != nil {
			log.Fatalf("invalid OUTBOX_TABLE: %v", err)
		}
	}

	locator, closeLocator := newLocator(conf, logger)
	defer closeLocator()

	bus := eventbus.NewEventPublisher(logger)
	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: bus,
		Logger:   logger,
	})
	maintenanceOpts := &maintenance.ModuleOptions{
		Backend:          conf.StorageBackend,
		Policies:         policies,
		Locator:          locator,
		OutboxTable:      outboxTable,
		DispatchAttempts: conf.Dispatch.MaxAttempts,
		SearchRadiusKm:   conf.Dispatch.SearchRadiusKm,
		DefaultCapacity:  conf.Dispatch.DefaultCapacity,
		StreamOrigins:    conf.CORS.AllowedOrigins,
		Tracking: controllers.TrackingWebhookOptions{
			Secret:    conf.Tracking.WebhookSecret,
			MaxSkew:   conf.Tracking.MaxSkew,
			ReplayTTL: conf.Tracking.ReplayTTL,
		},
		Retry: services.RetryPolicy{
			Attempts: conf.Retry.StaleAttempts,
			Base:     conf.Retry.StaleBackoff,
			Max:      20 * conf.Retry.StaleBackoff,
		},
	}
	if err := application.LoadModules(app, modules.BuiltInModules(maintenanceOpts)...); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}

	if conf.MigrateOnStart && pool != nil {
		if err := app.Migrations().Run(ctx); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
	}

	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if pool != nil {
		startOutboxBackground(gctx, g, conf, pool, outboxTable, logger, bus)
	}
	g.Go(func() error {
		logger.WithField("addr", conf.SocketAddress).Info("listening")
		return serverInstance.Serve(gctx, conf.SocketAddress)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("server stopped")
		os.Exit(1)
	}
}

// newLocator connects the Redis geo index when configured. A failed ping is
// logged and dispatch runs on full scans.
func newLocator(conf *configuration.Configuration, logger *logrus.Logger) (dispatch.Locator, func()) {
	if conf.Redis.GeoIndex != configuration.GeoIndexRedis {
		return nil, func() {}
	}
	geoLog := logger.WithField("component", "redisgeo")
	opts, err := redis.ParseURL(conf.Redis.URL)
	if err != nil {
		geoLog.WithError(err).Warn("invalid REDIS_URL; geo index disabled")
		return nil, func() {}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		geoLog.WithError(err).Warn("redis unreachable at startup; dispatch falls back to full scans until it recovers")
	}
	return redisgeo.NewLocator(client, conf.Redis.GeoKey), func() { _ = client.Close() }
}

func startOutboxBackground(
	ctx context.Context,
	g *errgroup.Group,
	conf *configuration.Configuration,
	pool *pgxpool.Pool,
	table pgx.Identifier,
	logger *logrus.Logger,
	bus eventbus.EventBusWithError,
) {
	outboxLog := logger.WithFields(logrus.Fields{
		"component": "outbox",
		"table":     outbox.TableLabel(table),
	})

	if conf.Outbox.RelayEnabled {
		relay, err := outbox.NewRelay(pool, table, maintenanceoutbox.NewDispatcher(bus), outbox.RelayOptions{
			PollInterval:    conf.Outbox.RelayPollInterval,
			BatchSize:       conf.Outbox.RelayBatchSize,
			LockTTL:         conf.Outbox.RelayLockTTL,
			MaxAttempts:     conf.Outbox.RelayMaxAttempts,
			SingleActive:    conf.Outbox.RelaySingleActive,
			LastErrorMaxLen: conf.Outbox.LastErrorMaxBytes,
			DispatchTimeout: conf.Outbox.RelayDispatchTimeout,
			Logger:          outboxLog,
		})
		if err != nil {
			outboxLog.WithError(err).Warn("outbox: failed to create relay")
		} else {
			g.Go(func() error {
				if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					outboxLog.WithError(err).Error("outbox: relay stopped")
				}
				return nil
			})
		}
	}

	if conf.Outbox.CleanerEnabled {
		cleaner, err := outbox.NewCleaner(pool, table, outbox.CleanerOptions{
			Enabled:               true,
			Interval:              conf.Outbox.CleanerInterval,
			Retention:             conf.Outbox.CleanerRetention,
			DeadRetention:         conf.Outbox.CleanerDeadRetention,
			DeadAttemptsThreshold: conf.Outbox.RelayMaxAttempts,
			Logger:                outboxLog,
		})
		if err != nil {
			outboxLog.WithError(err).Warn("outbox: failed to create cleaner")
			return
		}
		g.Go(func() error {
			if err := cleaner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				outboxLog.WithError(err).Error("outbox: cleaner stopped")
			}
			return nil
		})
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/configuration"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "maintenancectl",
		Short:         "Maintenance request operations: migrations, SLA tables, dispatch previews and outbox upkeep",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newMigrateCmd(), newSLACmd(), newDispatchCmd(), newOutboxCmd())
	return cmd
}

func loadConfig() (*configuration.Configuration, error) {
	return configuration.Load(".env", ".env.local")
}

func connectDB(ctx context.Context, conf *configuration.Configuration) (*pgxpool.Pool, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/infrastructure/persistence"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect the maintenance schema",
	}
	cmd.AddCommand(
		newMigrateSubCmd("up", "Apply all pending migrations", func(cmd *cobra.Command, m application.MigrationManager) error {
			return m.Run(cmd.Context())
		}),
		newMigrateSubCmd("down", "Roll back the most recent migration", func(cmd *cobra.Command, m application.MigrationManager) error {
			return m.Rollback(cmd.Context())
		}),
		newMigrateSubCmd("status", "List migrations and whether they are applied", func(cmd *cobra.Command, m application.MigrationManager) error {
			statuses, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), statuses)
		}),
	)
	return cmd
}

func newMigrateSubCmd(use, short string, run func(*cobra.Command, application.MigrationManager) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			defer conf.Unload()

			pool, err := connectDB(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer pool.Close()

			manager := application.NewMigrationManager(pool, conf.Logger())
			manager.RegisterSchema(persistence.MigrationsFS, persistence.MigrationsDir)
			return run(cmd, manager)
		},
	}
}

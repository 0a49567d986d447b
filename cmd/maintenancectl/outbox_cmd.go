package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Request event outbox upkeep",
	}
	cmd.AddCommand(newOutboxPurgeCmd())
	return cmd
}

func newOutboxPurgeCmd() *cobra.Command {
	var retention, deadRetention time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete delivered events older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			defer conf.Unload()

			table, err := outbox.ParseIdentifier(conf.Outbox.Table)
			if err != nil {
				return err
			}
			pool, err := connectDB(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer pool.Close()

			if !cmd.Flags().Changed("retention") {
				retention = conf.Outbox.CleanerRetention
			}
			if !cmd.Flags().Changed("dead-retention") {
				deadRetention = conf.Outbox.CleanerDeadRetention
			}
			cleaner, err := outbox.NewCleaner(pool, table, outbox.CleanerOptions{
				Retention:             retention,
				DeadRetention:         deadRetention,
				DeadAttemptsThreshold: conf.Outbox.RelayMaxAttempts,
				Logger:                conf.Logger().WithField("table", outbox.TableLabel(table)),
			})
			if err != nil {
				return err
			}
			stats, err := cleaner.CleanOnce(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", outbox.DefaultRetention, "Age after which delivered events are deleted")
	cmd.Flags().DurationVar(&deadRetention, "dead-retention", 0, "Age after which exhausted events are deleted; 0 keeps them")
	return cmd
}

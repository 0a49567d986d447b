package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/sla"
)

type validateOutput struct {
	File     string       `json:"file"`
	Policies []sla.Policy `json:"policies"`
	Warnings []string     `json:"warnings"`
}

type computeOutput struct {
	Priority  request.Priority `json:"priority"`
	Category  string           `json:"category"`
	Policy    sla.Policy       `json:"policy"`
	Fallback  bool             `json:"fallback"`
	CreatedAt time.Time        `json:"created_at"`
	Deadlines sla.Deadlines    `json:"deadlines"`
}

func newSLACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sla",
		Short: "Validate policy tables and compute deadlines",
	}
	cmd.AddCommand(newSLAValidateCmd(), newSLAComputeCmd())
	return cmd
}

func newSLAValidateCmd() *cobra.Command {
	var (
		file   string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse a YAML or TOML policy table and report gaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := sla.LoadFile(file)
			if err != nil {
				return err
			}
			warnings := table.Check()
			if warnings == nil {
				warnings = []string{}
			}
			if err := writeJSON(cmd.OutOrStdout(), validateOutput{File: file, Policies: table.Policies(), Warnings: warnings}); err != nil {
				return err
			}
			if strict && len(warnings) > 0 {
				return fmt.Errorf("policy table has %d warning(s)", len(warnings))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Policy file (.yaml, .yml or .toml)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail when the table has warnings")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newSLAComputeCmd() *cobra.Command {
	var (
		file      string
		priority  string
		category  string
		createdAt string
	)
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute the accept, arrive and complete deadlines for a request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := sla.Load(file)
			if err != nil {
				return err
			}
			p, err := request.ParsePriority(priority)
			if err != nil {
				return err
			}
			created := time.Now().UTC()
			if createdAt != "" {
				if created, err = time.Parse(time.RFC3339, createdAt); err != nil {
					return fmt.Errorf("invalid --created-at: %w", err)
				}
			}
			policy, fallback, err := table.Lookup(p, category)
			if err != nil {
				return err
			}
			deadlines, err := table.ComputeDeadlines(p, category, created)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), computeOutput{
				Priority:  p,
				Category:  category,
				Policy:    policy,
				Fallback:  fallback,
				CreatedAt: created.UTC(),
				Deadlines: deadlines,
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Policy file; built-in defaults when empty")
	cmd.Flags().StringVar(&priority, "priority", "", "urgent, high, medium or low (required)")
	cmd.Flags().StringVar(&category, "category", "", "Request category")
	cmd.Flags().StringVar(&createdAt, "created-at", "", "Creation time, RFC 3339 (default now)")
	_ = cmd.MarkFlagRequired("priority")
	return cmd
}

package main

import (
	"fmt"

	pgstore "github.com/narvanalabs/sitekiln/internal/store/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := pgstore.Migrate(cmd.Context(), cfg.DatabaseDSN); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pgstore.MigrationStatus(cmd.Context(), cfg.DatabaseDSN)
		},
	})
	return cmd
}

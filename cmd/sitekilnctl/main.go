// Package main provides sitekilnctl, the operator CLI for schema migrations
// and user accounts.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/narvanalabs/sitekiln/pkg/config"
	"github.com/narvanalabs/sitekiln/pkg/logger"
	"github.com/spf13/cobra"
)

var version = "dev"

// Global state shared by subcommands
var (
	envFile string
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sitekilnctl",
		Short: "Operator CLI for the sitekiln build service",
		Long: `sitekilnctl talks directly to the sitekiln database.

It applies schema migrations, creates user accounts and mints API tokens.
Configuration comes from the same environment variables as the API server.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			if err := config.LoadDotEnv(files...); err != nil {
				return fmt.Errorf("loading env file: %w", err)
			}

			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded

			l, _, err := logger.NewFromOptions(logger.Options{
				Level:  cfg.Logging.Level,
				Format: "text",
			})
			if err != nil {
				return err
			}
			log = l
			slog.SetDefault(log.Logger)
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file instead of .env")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newUserCmd())
	rootCmd.AddCommand(newTokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

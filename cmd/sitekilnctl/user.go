package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/narvanalabs/sitekiln/internal/models"
	"github.com/narvanalabs/sitekiln/internal/quota"
	"github.com/narvanalabs/sitekiln/internal/store"
	pgstore "github.com/narvanalabs/sitekiln/internal/store/postgres"
	"github.com/spf13/cobra"
)

// openStore connects with the pool sized for a one-shot command.
func openStore() (*pgstore.PostgresStore, error) {
	dbCfg := pgstore.DefaultConfig(cfg.DatabaseDSN)
	dbCfg.MaxOpenConns = 2
	dbCfg.MaxIdleConns = 1
	st, err := pgstore.NewPostgresStore(dbCfg, log.WithComponent("store").Logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return st, nil
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var (
		password string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a user account",
		Long: `Create a user account. Admins can manage templates and are not subject to
the daily build quota.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.TrimSpace(args[0])
			if email == "" || password == "" {
				return errors.New("email and --password are required")
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			user, err := st.Users().Create(cmd.Context(), email, password, admin)
			if errors.Is(err, store.ErrDuplicateKey) {
				return fmt.Errorf("user %s already exists", email)
			}
			if err != nil {
				return fmt.Errorf("creating user: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s) admin=%t\n", user.Email, user.ID, user.IsAdmin)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Initial password (required)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant administrator rights")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List user accounts with today's build usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			users, err := st.Users().List(cmd.Context())
			if err != nil {
				return err
			}
			return printUsers(cmd.OutOrStdout(), users, time.Now().UTC().Format(quota.DayLayout))
		},
	}
}

// printUsers writes one row per user. Usage from an earlier day shows as 0.
func printUsers(out io.Writer, users []*models.User, today string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tADMIN\tBUILDS TODAY")
	for _, u := range users {
		used := 0
		if u.LastBuildDate == today {
			used = u.DailyUsed
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%d\n", u.ID, u.Email, u.IsAdmin, used)
	}
	return w.Flush()
}

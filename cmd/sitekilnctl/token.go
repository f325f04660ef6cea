package main

import (
	"errors"
	"fmt"

	"github.com/narvanalabs/sitekiln/internal/auth"
	"github.com/narvanalabs/sitekiln/internal/store"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <email>",
		Short: "Mint an API token for an existing user",
		Long: `Mint a bearer token for an existing user without a password, signed with
JWT_SECRET and valid for JWT_EXPIRY.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			user, err := st.Users().GetByEmail(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no user with email %s", args[0])
			}
			if err != nil {
				return fmt.Errorf("looking up user: %w", err)
			}

			authSvc := auth.NewService(&auth.Config{
				JWTSecret:   []byte(cfg.JWTSecret),
				TokenExpiry: cfg.JWTExpiry,
			}, log.WithComponent("auth").Logger)
			token, err := authSvc.GenerateToken(user)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

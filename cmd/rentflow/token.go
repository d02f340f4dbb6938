package main

import (
	"fmt"
	"strings"
	"time"

	"rentflow/internal/auth"
	"rentflow/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newTokenCmd signs a bearer token for local testing and operations.
func newTokenCmd() *cobra.Command {
	var (
		user string
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for a user id and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := auth.NewJWT(cfg.JWTSecret).SignTTL(uid, strings.ToUpper(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (uuid)")
	cmd.Flags().StringVar(&role, "role", auth.RoleTenant, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

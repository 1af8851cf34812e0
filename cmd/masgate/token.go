package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gosuda/masgate/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a management API token signed with MASGATE_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("MASGATE_JWT_SECRET")
			if len(secret) < 32 {
				return errors.New("MASGATE_JWT_SECRET must be set and at least 32 characters")
			}
			if role != auth.RoleViewer && role != auth.RoleAdmin {
				return fmt.Errorf("role must be %s or %s, got %q", auth.RoleViewer, auth.RoleAdmin, role)
			}

			token, err := auth.IssueToken(secret, subject, role, ttl)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "dashboard", "Token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleViewer, "Token role (viewer or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

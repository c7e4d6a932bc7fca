package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/jacobclevenger/unison/internal/demo"
	"github.com/jacobclevenger/unison/permissions"
	"github.com/spf13/cobra"
)

func (a *App) newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token for the demo application",
		Long: `Sign a bearer token accepted by the demo's protected routes.  The
secret must match the one the server runs with.`,
		Example: `  unison token alice --secret s3cr3t --ttl 1h`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.config.Secret == "" {
				return errors.New("a secret is required (--secret or UNISON_SECRET)")
			}
			ttl, err := cmd.Flags().GetDuration("ttl")
			if err != nil {
				return err
			}
			auth := permissions.NewBearerToken([]byte(a.config.Secret), permissions.WithIssuer(demo.Issuer))
			token, err := auth.Sign(args[0], mustGetString(cmd, "role"), ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	cmd.Flags().String("role", "admin", "role claim")
	return cmd
}

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "unison %s (commit %s, built %s)\n",
				a.build.Version, a.build.Commit, a.build.Date)
			return err
		},
	}
}

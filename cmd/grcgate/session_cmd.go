package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grcgate/grcgate/internal/output"
	"github.com/grcgate/grcgate/internal/tenant"
)

func newSessionCmd(opts *rootOptions) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Work with platform session tokens",
	}
	sessionCmd.AddCommand(newSessionIssueCmd(opts))
	return sessionCmd
}

func newSessionIssueCmd(opts *rootOptions) *cobra.Command {
	var (
		tenantID string
		userID   string
		roles    []string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a session token with the configured session secret",
		Long: "Sign a session token for testing and service accounts. The server accepts it " +
			"because it shares the session secret; no server needs to be running.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadResolvedConfig(cmd.Context())
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Tenant.SessionTTL.Duration()
			}
			sessions, err := tenant.NewSessions([]byte(cfg.Tenant.SessionSecret), ttl, nil)
			if err != nil {
				return fmt.Errorf("%w: %w", errConfig, err)
			}
			token, session, err := sessions.Issue(tenantID, userID, splitList(roles))
			if err != nil {
				return err
			}
			if opts.isTable() {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
				return err
			}
			f, err := opts.formatter()
			if err != nil {
				return err
			}
			return output.Print(cmd.OutOrStdout(), f, map[string]any{"token": token, "session": session})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&tenantID, "tenant", "", "Tenant id carried by the session")
	flags.StringVar(&userID, "user", "", "User id carried by the session")
	flags.StringSliceVar(&roles, "roles", nil, "Roles carried by the session")
	flags.DurationVar(&ttl, "ttl", 0, "Lifetime (default: tenant.session_ttl)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

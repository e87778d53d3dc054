package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/grcgate/grcgate/internal/output"
	"github.com/grcgate/grcgate/internal/tenant"
)

func newRulesCmd(opts *rootOptions) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage per-tenant access rules of a stopped server",
	}
	rulesCmd.AddCommand(
		newRulesLoadCmd(opts),
		newRulesSetCmd(opts),
		newRulesGetCmd(opts),
		newRulesListCmd(opts),
		newRulesDeleteCmd(opts),
	)
	return rulesCmd
}

// withValidator opens the offline store and runs fn with a rule administrator
func withValidator(ctx context.Context, opts *rootOptions, fn func(*tenant.Validator) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := opts.commandLogger()
	if err != nil {
		return err
	}
	store, err := openOfflineStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	v, err := store.validator(cfg, logger)
	if err != nil {
		return err
	}
	return fn(v)
}

func newRulesLoadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Store every rule from a YAML, TOML or JSON file, replacing existing ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := tenant.LoadRulesFile(args[0])
			if err != nil {
				return err
			}
			return withValidator(cmd.Context(), opts, func(v *tenant.Validator) error {
				for _, rule := range rules {
					if _, err := v.SetAccessRule(cmd.Context(), cliActor, rule); err != nil {
						return fmt.Errorf("access rule %q: %w", rule.TenantID, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d access rules from %s\n", len(rules), args[0])
				return nil
			})
		},
	}
}

func newRulesSetCmd(opts *rootOptions) *cobra.Command {
	var (
		users       []string
		roles       []string
		crossTenant bool
	)
	cmd := &cobra.Command{
		Use:   "set <tenant-id>",
		Short: "Create or replace one tenant's access rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule := tenant.AccessRule{
				TenantID:          args[0],
				AllowedUserIDs:    splitList(users),
				RequiredRoles:     splitList(roles),
				CrossTenantAccess: crossTenant,
			}
			return withValidator(cmd.Context(), opts, func(v *tenant.Validator) error {
				stored, err := v.SetAccessRule(cmd.Context(), cliActor, rule)
				if err != nil {
					return err
				}
				return printRules(cmd, opts, []*tenant.AccessRule{stored})
			})
		},
	}
	cmd.Flags().StringSliceVar(&users, "users", nil, "Allowed user ids (comma separated or repeated)")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "Roles of which the user needs at least one")
	cmd.Flags().BoolVar(&crossTenant, "cross-tenant", false, "Let platform owners reach this tenant from another tenant's session")
	return cmd
}

func newRulesGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Show one tenant's access rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withValidator(cmd.Context(), opts, func(v *tenant.Validator) error {
				rule, err := v.GetAccessRule(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("tenant %q: %w", args[0], err)
				}
				return printRules(cmd, opts, []*tenant.AccessRule{rule})
			})
		},
	}
}

func newRulesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every access rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withValidator(cmd.Context(), opts, func(v *tenant.Validator) error {
				rules, err := v.ListAccessRules(cmd.Context())
				if err != nil {
					return err
				}
				return printRules(cmd, opts, rules)
			})
		},
	}
}

func newRulesDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Remove a tenant's access rule; the tenant is then denied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withValidator(cmd.Context(), opts, func(v *tenant.Validator) error {
				if err := v.DeleteAccessRule(cmd.Context(), cliActor, args[0]); err != nil {
					return fmt.Errorf("tenant %q: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted access rule for %s\n", args[0])
				return nil
			})
		},
	}
}

func printRules(cmd *cobra.Command, opts *rootOptions, rules []*tenant.AccessRule) error {
	f, err := opts.formatter()
	if err != nil {
		return err
	}
	if !opts.isTable() {
		return output.Print(cmd.OutOrStdout(), f, rules)
	}
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		updated := ""
		if !r.LastUpdated.IsZero() {
			updated = r.LastUpdated.Format(time.RFC3339)
		}
		rows = append(rows, []string{
			r.TenantID,
			strings.Join(r.AllowedUserIDs, ","),
			strings.Join(r.RequiredRoles, ","),
			strconv.FormatBool(r.CrossTenantAccess),
			updated,
		})
	}
	return output.PrintTable(cmd.OutOrStdout(), f,
		[]string{"TENANT", "USERS", "ROLES", "CROSS_TENANT", "UPDATED"}, rows)
}

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/archer"
	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/output"
)

func newArcherCmd(opts *rootOptions) *cobra.Command {
	var connection string
	archerCmd := &cobra.Command{
		Use:   "archer",
		Short: "Talk to a configured Archer connection directly",
	}
	archerCmd.PersistentFlags().StringVar(&connection, "connection", "", "Connection name (default: the only configured one)")
	archerCmd.AddCommand(newArcherAppsCmd(opts, &connection), newArcherTestCmd(opts, &connection))
	return archerCmd
}

func selectConnection(cfg *config.Config, name string) (*config.ArcherConnection, error) {
	if name == "" {
		switch len(cfg.Connections) {
		case 0:
			return nil, fmt.Errorf("%w: no Archer connections configured", errConfig)
		case 1:
			return cfg.Connections[0], nil
		}
		names := make([]string, 0, len(cfg.Connections))
		for _, c := range cfg.Connections {
			names = append(names, c.Name)
		}
		return nil, fmt.Errorf("several connections configured, pick one with --connection (%s)", strings.Join(names, ", "))
	}
	for _, c := range cfg.Connections {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown Archer connection %q", errConfig, name)
}

func newArcherClient(cfg *config.Config, conn *config.ArcherConnection, logger *zap.Logger) (*archer.Client, error) {
	transformer, err := archer.NewTransformer(cfg.Transform)
	if err != nil {
		return nil, err
	}
	return archer.NewClient(conn, transformer, logger), nil
}

func newArcherAppsCmd(opts *rootOptions, connection *string) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List the applications visible to the service account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadResolvedConfig(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := opts.commandLogger()
			if err != nil {
				return err
			}
			conn, err := selectConnection(cfg, *connection)
			if err != nil {
				return err
			}
			client, err := newArcherClient(cfg, conn, logger)
			if err != nil {
				return err
			}
			apps, err := client.GetApplications(cmd.Context())
			if err != nil {
				return err
			}
			f, err := opts.formatter()
			if err != nil {
				return err
			}
			if !opts.isTable() {
				return output.Print(cmd.OutOrStdout(), f, apps)
			}
			rows := make([][]string, 0, len(apps))
			for _, app := range apps {
				rows = append(rows, []string{strconv.Itoa(app.ID), app.Name, app.Alias})
			}
			return output.PrintTable(cmd.OutOrStdout(), f, []string{"ID", "NAME", "ALIAS"}, rows)
		},
	}
}

func newArcherTestCmd(opts *rootOptions, connection *string) *cobra.Command {
	var askPassword bool
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Log in to Archer and count the applications",
		Long: "Log in to Archer with the configured service account and count the applications. " +
			"Without a configured password, or with --ask-password, the password is prompted for.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadResolvedConfig(cmd.Context())
			if err != nil {
				return err
			}
			logger, err := opts.commandLogger()
			if err != nil {
				return err
			}
			conn, err := selectConnection(cfg, *connection)
			if err != nil {
				return err
			}
			if askPassword || conn.Password == "" {
				prompt := fmt.Sprintf("Archer password for %s@%s: ", conn.Username, conn.InstanceName)
				password, err := readPassword(prompt, cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				conn.Password = password
			}
			client, err := newArcherClient(cfg, conn, logger)
			if err != nil {
				return err
			}
			n, err := client.TestConnection(cmd.Context())
			if err != nil {
				return fmt.Errorf("connection %q failed: %w", conn.Name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s (%s): %d applications visible\n", conn.Name, conn.BaseURL, n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&askPassword, "ask-password", false, "Prompt for the password even when one is configured")
	return cmd
}

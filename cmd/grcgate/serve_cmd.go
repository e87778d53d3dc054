package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/logs"
	"github.com/grcgate/grcgate/internal/security"
	"github.com/grcgate/grcgate/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway's REST and MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if cmd.Flags().Changed("log-to-file") {
		cfg.Logging.EnableFile = opts.logToFile
	}
	if opts.logDir != "" {
		cfg.Logging.LogDir = opts.logDir
	}

	var sanitizer *logs.SecretSanitizer
	logger, err := logs.SetupLogger(cfg.Logging, logs.Options{
		Classifier: security.NewClassifier(cfg.Privacy, zap.NewNop()),
		Sanitizer:  &sanitizer,
	})
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting grcgate",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
		zap.String("log_level", cfg.Logging.Level),
		zap.Int("archer_connections", len(cfg.Connections)))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger, version, server.WithSanitizer(sanitizer))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(ctx)
}

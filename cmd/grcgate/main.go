package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/grcgate/grcgate/internal/server"
)

var version = "v0.1.0" // injected by -ldflags during build

// rootOptions holds the persistent flags shared by every command
type rootOptions struct {
	configFile string
	dataDir    string
	listen     string
	logLevel   string
	logToFile  bool
	logDir     string
	output     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "grcgate",
		Short:         "Tenant-isolated, privacy-protecting gateway between AI agents and Archer GRC",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Configuration file path (default: ~/.grcgate/grcgate.yaml)")
	flags.StringVarP(&opts.dataDir, "data-dir", "d", "", "Data directory path (default: ~/.grcgate)")
	flags.StringVarP(&opts.listen, "listen", "l", "", "Listen address for the HTTP server")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logToFile, "log-to-file", false, "Also write logs to the standard OS log location")
	flags.StringVar(&opts.logDir, "log-dir", "", "Custom log directory path")
	flags.StringVarP(&opts.output, "output", "o", "", "Output format: table, json or yaml (default from GRCGATE_OUTPUT)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newAuditCmd(opts),
		newRulesCmd(opts),
		newMaskCmd(opts),
		newArcherCmd(opts),
		newSessionCmd(opts),
		newCredentialsCmd(),
		newDBCmd(opts),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCodeFor(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code != ExitCodeGeneralError {
			fmt.Fprintf(os.Stderr, "Exit %d: %s\n", code, exitCodeDescription(code))
		}
		os.Exit(code)
	}
}

func exitCodeFor(err error) int {
	var portErr *server.PortInUseError
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.As(err, &portErr):
		return ExitCodePortConflict
	case errors.Is(err, bolterrors.ErrTimeout):
		return ExitCodeDBLocked
	case errors.Is(err, errConfig):
		return ExitCodeConfigError
	case errors.Is(err, os.ErrPermission):
		return ExitCodePermissionError
	default:
		return ExitCodeGeneralError
	}
}

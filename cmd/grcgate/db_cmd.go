package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/grcgate/grcgate/internal/output"
	"github.com/grcgate/grcgate/internal/storage"
)

func newDBCmd(opts *rootOptions) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect or back up the gateway database (server must be stopped)",
	}
	dbCmd.AddCommand(newDBStatsCmd(opts), newDBBackupCmd(opts))
	return dbCmd
}

func withDB(opts *rootOptions, fn func(*storage.DB) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger, err := opts.commandLogger()
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg.DataDir, logger.Sugar())
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func newDBStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show schema version, size and key counts per bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(opts, func(db *storage.DB) error {
				st, err := db.Stats()
				if err != nil {
					return err
				}
				f, err := opts.formatter()
				if err != nil {
					return err
				}
				if !opts.isTable() {
					return output.Print(cmd.OutOrStdout(), f, st)
				}
				rows := [][]string{
					{"path", st.Path},
					{"schema_version", strconv.FormatUint(st.SchemaVersion, 10)},
					{"size_bytes", strconv.FormatInt(st.SizeBytes, 10)},
				}
				names := make([]string, 0, len(st.Buckets))
				for name := range st.Buckets {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					rows = append(rows, []string{"bucket." + name, strconv.Itoa(st.Buckets[name])})
				}
				return output.PrintTable(cmd.OutOrStdout(), f, []string{"METRIC", "VALUE"}, rows)
			})
		},
	}
}

func newDBBackupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file>",
		Short: "Write a consistent copy of the database, audit chain included",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(opts, func(db *storage.DB) error {
				f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
				if err != nil {
					return err
				}
				n, err := db.Backup(f)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					_ = os.Remove(args[0])
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", n, args[0])
				return err
			})
		},
	}
}

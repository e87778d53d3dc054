package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/grcgate/grcgate/internal/audit"
	"github.com/grcgate/grcgate/internal/output"
)

func newAuditCmd(opts *rootOptions) *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify the audit chain of a stopped server",
	}
	auditCmd.AddCommand(newAuditVerifyCmd(opts), newAuditSummaryCmd(opts), newAuditEventsCmd(opts))
	return auditCmd
}

func newAuditVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [event-id...]",
		Short: "Recompute the hash chain, or only the listed events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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

			report, err := store.audit.VerifyIntegrity(ctx, args)
			if err != nil {
				return err
			}
			f, err := opts.formatter()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.isTable() {
				fmt.Fprintf(out, "Checked %d events: verified=%t\n", report.Checked, report.Verified)
				for _, id := range report.Tampered {
					fmt.Fprintf(out, "  tampered: %s\n", id)
				}
				for _, id := range report.Missing {
					fmt.Fprintf(out, "  missing:  %s\n", id)
				}
			} else if err := output.Print(out, f, report); err != nil {
				return err
			}
			if !report.Verified {
				return fmt.Errorf("audit chain integrity check failed: %d tampered, %d missing",
					len(report.Tampered), len(report.Missing))
			}
			return nil
		},
	}
}

func newAuditSummaryCmd(opts *rootOptions) *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize a tenant's events and violation risk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
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

			summary, err := store.audit.GenerateAuditSummary(ctx, tenantID)
			if err != nil {
				return err
			}
			f, err := opts.formatter()
			if err != nil {
				return err
			}
			if !opts.isTable() {
				return output.Print(cmd.OutOrStdout(), f, summary)
			}
			return output.PrintTable(cmd.OutOrStdout(), f, []string{"METRIC", "VALUE"}, summaryRows(summary))
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant to summarize")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func summaryRows(s *audit.Summary) [][]string {
	rows := [][]string{
		{"tenant", s.TenantID},
		{"total_events", strconv.Itoa(s.TotalEvents)},
		{"violations", strconv.Itoa(s.Violations)},
		{"risk_score", strconv.Itoa(s.RiskScore)},
		{"security_score", strconv.Itoa(s.SecurityScore)},
	}
	types := make([]string, 0, len(s.ByEventType))
	for t := range s.ByEventType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		rows = append(rows, []string{"events." + t, strconv.Itoa(s.ByEventType[audit.EventType(t)])})
	}
	return rows
}

func newAuditEventsCmd(opts *rootOptions) *cobra.Command {
	var (
		filter      audit.Filter
		eventType   string
		severity    string
		minSeverity string
		since       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List audit events, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
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

			filter.EventType = audit.EventType(eventType)
			if severity != "" {
				filter.Severity = audit.ParseSeverity(severity)
			}
			if minSeverity != "" {
				filter.MinSeverity = audit.ParseSeverity(minSeverity)
			}
			if since > 0 {
				filter.StartTime = time.Now().Add(-since)
			}
			filter.Normalize()

			events, total, err := store.audit.QueryEvents(ctx, filter)
			if err != nil {
				return err
			}
			f, err := opts.formatter()
			if err != nil {
				return err
			}
			if !opts.isTable() {
				return output.Print(cmd.OutOrStdout(), f, map[string]any{"events": events, "total": total})
			}
			rows := make([][]string, 0, len(events))
			for _, e := range events {
				rows = append(rows, []string{
					strconv.FormatUint(e.Sequence, 10),
					e.Timestamp.Format(time.RFC3339),
					e.TenantID,
					e.UserID,
					string(e.EventType),
					string(e.Severity),
					e.ID,
				})
			}
			if err := output.PrintTable(cmd.OutOrStdout(), f,
				[]string{"SEQ", "TIME", "TENANT", "USER", "TYPE", "SEVERITY", "ID"}, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d events\n", len(events), total)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&filter.TenantID, "tenant", "", "Filter by tenant")
	flags.StringVar(&filter.UserID, "user", "", "Filter by user")
	flags.StringVar(&eventType, "type", "", "Filter by event type")
	flags.StringVar(&severity, "severity", "", "Exact severity (low, medium, high, critical)")
	flags.StringVar(&minSeverity, "min-severity", "", "Minimum severity")
	flags.DurationVar(&since, "since", 0, "Only events newer than this, e.g. 24h")
	flags.IntVar(&filter.Limit, "limit", audit.DefaultQueryLimit, "Maximum events to return")
	flags.IntVar(&filter.Offset, "offset", 0, "Events to skip")
	return cmd
}

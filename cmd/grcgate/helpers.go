package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/grcgate/grcgate/internal/audit"
	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/logs"
	"github.com/grcgate/grcgate/internal/output"
	"github.com/grcgate/grcgate/internal/secret"
	"github.com/grcgate/grcgate/internal/storage"
	"github.com/grcgate/grcgate/internal/tenant"
)

const cliActor = "cli"

var errConfig = errors.New("configuration error")

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	if o.dataDir != "" {
		if err := os.MkdirAll(o.dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", o.dataDir, err)
		}
		cfg.DataDir = o.dataDir
	}
	if o.listen != "" {
		cfg.Listen = o.listen
	}
	return cfg, nil
}

// loadResolvedConfig also expands secret references
func (o *rootOptions) loadResolvedConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := secret.NewResolver().ResolveConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	return cfg, nil
}

func (o *rootOptions) commandLogger() (*zap.Logger, error) {
	return logs.SetupCommandLogger(false, o.logLevel, o.logToFile, o.logDir)
}

func (o *rootOptions) formatter() (output.Formatter, error) {
	return output.NewFormatter(output.ResolveFormat(o.output))
}

func (o *rootOptions) isTable() bool {
	return strings.EqualFold(output.ResolveFormat(o.output), "table")
}

// offlineStore opens the database a stopped server leaves behind. A running
// server holds the file lock, so this times out with ExitCodeDBLocked.
type offlineStore struct {
	storage *storage.DB
	audit   *audit.Logger
}

func openOfflineStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*offlineStore, error) {
	if cfg.Audit.Store == config.AuditStoreMemory {
		return nil, fmt.Errorf("%w: audit store is in memory; only the running server can read it", errConfig)
	}
	db, err := storage.Open(cfg.DataDir, logger.Sugar())
	if err != nil {
		return nil, err
	}
	store, err := audit.NewBoltStore(db.Bolt(), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	auditLog, err := audit.NewLogger(ctx, store, cfg.Audit.GenesisSeed, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &offlineStore{storage: db, audit: auditLog}, nil
}

// validator returns a rule administrator. It carries no session registry,
// so it cannot validate access.
func (s *offlineStore) validator(cfg *config.Config, logger *zap.Logger) (*tenant.Validator, error) {
	rules, err := tenant.NewBoltRuleStore(s.storage.Bolt())
	if err != nil {
		return nil, err
	}
	return tenant.NewValidator(cfg.Tenant, rules, nil, s.audit, logger), nil
}

func (s *offlineStore) Close() error {
	return errors.Join(s.audit.Close(), s.storage.Close())
}

// readPassword prompts on the terminal without echo, or reads one line
// when stdin is not a terminal
func readPassword(prompt string, in io.Reader, errOut io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(errOut, prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(errOut)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

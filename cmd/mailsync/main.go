package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brandon/mail-sync/internal/cache"
	"github.com/brandon/mail-sync/internal/config"
	"github.com/brandon/mail-sync/internal/email"
	"github.com/brandon/mail-sync/internal/mcp"
	"github.com/brandon/mail-sync/internal/metrics"
	"github.com/brandon/mail-sync/internal/worker"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mailsync",
		Short: "mailsync - local IMAP mirror with threading and an undoable action queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	var showVersion bool
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print version and exit")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Printf("mailsync %s", version)
			if commit != "" {
				fmt.Printf(" (%s)", commit)
			}
			fmt.Println()
			os.Exit(0)
		}
	}
	mcp.Version = version

	rootCmd.AddCommand(runCmd(), syncCmd(), serveCmd(), rollbackCmd(), retryCmd(), passwordCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every command shares: configuration, logger and the cache
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	cache    *cache.Cache
	store    *cache.Store
	metrics  *metrics.Metrics
	accounts *email.AccountManager
}

// setup loads and validates the configuration, opens the cache and saves
// the configured accounts
func setup(ctx context.Context) (*app, error) {
	// Logs go to stderr; stdout carries the tool protocol in serve
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	c, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	store := cache.NewStore(c, logger)
	logger.WithField("accounts", cfg.AccountNames()).Info("Configuration loaded")

	for i := range cfg.Accounts {
		if _, err := store.UpsertAccount(ctx, &cfg.Accounts[i]); err != nil {
			c.Close() //nolint:errcheck
			return nil, fmt.Errorf("failed to save account %s: %w", cfg.Accounts[i].Name, err)
		}
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		cache:    c,
		store:    store,
		metrics:  metrics.New(),
		accounts: email.NewAccountManager(cfg, logger),
	}, nil
}

func (a *app) close() {
	if err := a.accounts.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close IMAP connections")
	}
	if err := a.cache.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close cache")
	}
}

// workers connects every active account and builds its worker. An account
// that cannot connect is logged and left out.
func (a *app) workers(ctx context.Context) ([]*worker.Worker, error) {
	active, err := a.store.ListActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var out []*worker.Worker
	for i := range active {
		account := &active[i]
		log := a.logger.WithField("account", account.Name)
		acc, err := a.accounts.GetAccount(account.Name)
		if err != nil {
			log.Warn("Skipping account that is no longer configured")
			continue
		}
		if err := acc.IMAP.Connect(); err != nil {
			log.WithError(err).Error("Skipping account, check IMAP host and credentials")
			continue
		}

		w, err := worker.New(a.store, a.cfg, account, acc.IMAP, acc.SMTP, a.metrics, a.logger)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if len(out) == 0 {
		return nil, errors.New("no account could connect")
	}
	return out, nil
}

// serveMetrics exposes the counters on METRICS_ADDR until ctx is done
func (a *app) serveMetrics(ctx context.Context) error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	a.logger.WithField("addr", a.cfg.MetricsAddr).Info("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return nil
}

// fatalOnLostDB ends the process when the database connection is gone
func (a *app) fatalOnLostDB(err error) error {
	if errors.Is(err, cache.ErrConnectionLost) {
		a.logger.WithError(err).Fatal("Database connection lost")
	}
	return err
}

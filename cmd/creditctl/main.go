// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/carterperez-dev/templates/credit-ledger/internal/backend"
	"github.com/carterperez-dev/templates/credit-ledger/internal/config"
	"github.com/carterperez-dev/templates/credit-ledger/internal/credits"
	"github.com/carterperez-dev/templates/credit-ledger/internal/entitlement"
	"github.com/carterperez-dev/templates/credit-ledger/internal/session"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	//nolint:errcheck // .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	c := &cli{stderr: os.Stderr}
	err := c.rootCmd().ExecuteContext(ctx)
	c.shutdown()
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is the client core: one session provider with the profile resolver
// and the credit cache registered behind it, in that order.
type app struct {
	cfg      *config.ClientConfig
	logger   *slog.Logger
	provider *session.Provider
	profiles *entitlement.Resolver
	credits  *credits.Cache
}

func newApp(cfg *config.ClientConfig, logger *slog.Logger) (*app, error) {
	client, err := backend.NewClient(backend.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	provider := session.NewProvider(client, session.NewFileStore(cfg.SessionFile), logger)
	api := client.WithTokens(provider)

	profiles := entitlement.NewResolver(api, logger)
	cache := credits.NewCache(api, credits.Config{
		AssumedDailyRate: cfg.AssumedDailyRate,
		Logger:           logger,
	})

	provider.Register(profiles)
	provider.Register(cache)

	return &app{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		profiles: profiles,
		credits:  cache,
	}, nil
}

// close waits for background usage writes, then releases channels. The
// stored session is kept.
func (a *app) close() {
	a.credits.Wait()
	a.provider.Close()
}

type cli struct {
	configPath string
	stderr     io.Writer
	app        *app
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "creditctl",
		Short:         "Account, entitlement and credit client for the credit-ledger API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.start(cmd)
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to client config YAML")

	root.AddCommand(
		c.versionCmd(),
		c.signUpCmd(),
		c.signInCmd(),
		c.signOutCmd(),
		c.confirmCmd(),
		c.resetPasswordCmd(),
		c.setPasswordCmd(),
		c.setNameCmd(),
		c.whoamiCmd(),
		c.balanceCmd(),
		c.debitCmd(),
		c.creditCmd(),
		c.projectCmd(),
		c.historyCmd(),
		c.usageCmd(),
		c.daysRemainingCmd(),
		c.watchCmd(),
	)

	return root
}

// start loads config and resumes the stored session. A session that cannot
// be resumed leaves the client anonymous; commands that need an identity
// report that themselves.
func (c *cli) start(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	cfg, err := config.LoadClient(c.configPath)
	if err != nil {
		return err
	}

	logger := newLogger(c.stderr, cfg.Log)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	c.app = a

	if err := a.provider.Restore(cmd.Context()); err != nil {
		logger.Warn("stored session not resumed", "error", err)
	}
	return nil
}

func (c *cli) shutdown() {
	if c.app != nil {
		c.app.close()
		c.app = nil
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "creditctl %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
		},
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level := slog.LevelWarn
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/carterperez-dev/templates/credit-ledger/internal/config"
	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/migrate"
)

func main() {
	//nolint:errcheck // .env is optional
	_ = godotenv.Load()

	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL URL")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*dsn, *timeout, flag.Arg(0), logger); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(dsn string, timeout time.Duration, command string, logger *slog.Logger) error {
	if dsn == "" {
		return fmt.Errorf("missing database url: pass -dsn or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := core.NewDatabase(ctx, config.DatabaseConfig{
		URL:          dsn,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
	})
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // process exit

	m := migrate.New(db.DB, logger)

	switch command {
	case "up", "":
		ran, err := m.Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("migrations complete", "applied", len(ran))
	case "down":
		name, err := m.Down(ctx)
		if err != nil {
			return err
		}
		logger.Info("rolled back", "name", name)
	case "status":
		status, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, mig := range status {
			state := "pending"
			if mig.Applied {
				state = "applied " + mig.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%-28s %s\n", mig.Name, state)
		}
	default:
		return fmt.Errorf("unknown command %q: want up, down or status", command)
	}

	return nil
}

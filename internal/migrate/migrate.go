// AngelaMos | 2026
// migrate.go

package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

//go:embed sql/*.sql
var embedded embed.FS

var ErrNothingToRollBack = errors.New("no migrations applied")

// Migration is one versioned schema change and whether it has run.
type Migration struct {
	Name      string     `db:"name"`
	Applied   bool       `db:"-"`
	AppliedAt *time.Time `db:"applied_at"`
}

// Migrator applies the SQL files shipped with the binary, recording each in
// schema_migrations. Every file runs in its own transaction.
type Migrator struct {
	db     *sqlx.DB
	files  fs.FS
	logger *slog.Logger
}

func New(db *sqlx.DB, logger *slog.Logger) *Migrator {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(fmt.Sprintf("embedded migrations: %v", err))
	}
	return NewWithFS(db, sub, logger)
}

// NewWithFS reads migrations from the root of files.
func NewWithFS(db *sqlx.DB, files fs.FS, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, files: files, logger: logger}
}

// Up applies every pending migration in name order and returns the names it
// applied.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	names, err := m.available()
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, name := range names {
		if _, done := applied[name]; done {
			continue
		}

		if err := m.run(ctx, name+upSuffix, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (name) VALUES ($1)`, name)
			return err
		}); err != nil {
			return ran, fmt.Errorf("apply %s: %w", name, err)
		}

		m.logger.Info("migration applied", "name", name)
		ran = append(ran, name)
	}

	return ran, nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) (string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return "", err
	}

	var last string
	err := m.db.GetContext(ctx, &last,
		`SELECT name FROM schema_migrations ORDER BY name DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNothingToRollBack
	}
	if err != nil {
		return "", fmt.Errorf("find last migration: %w", err)
	}

	if err := m.run(ctx, last+downSuffix, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM schema_migrations WHERE name = $1`, last)
		return err
	}); err != nil {
		return "", fmt.Errorf("roll back %s: %w", last, err)
	}

	m.logger.Info("migration rolled back", "name", last)
	return last, nil
}

// Status lists every known migration, applied or not, in name order.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	names, err := m.available()
	if err != nil {
		return nil, err
	}

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		mig := Migration{Name: name}
		if at, ok := applied[name]; ok {
			mig.Applied = true
			mig.AppliedAt = &at
		}
		out = append(out, mig)
	}

	return out, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`

	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]time.Time, error) {
	var rows []Migration
	if err := m.db.SelectContext(ctx, &rows,
		`SELECT name, applied_at FROM schema_migrations`); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	out := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		var at time.Time
		if row.AppliedAt != nil {
			at = *row.AppliedAt
		}
		out[row.Name] = at
	}
	return out, nil
}

func (m *Migrator) available() ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), upSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), upSuffix))
	}
	sort.Strings(names)

	return names, nil
}

func (m *Migrator) run(
	ctx context.Context,
	file string,
	record func(tx *sqlx.Tx) error,
) error {
	body, err := fs.ReadFile(m.files, path.Clean(file))
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	return core.InTx(ctx, m.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			return err
		}
		return record(tx)
	})
}

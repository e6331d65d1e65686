// Package migrate applies the embedded schema migrations and seed data with
// goose. Seeds run without version bookkeeping, so every seed file must be
// safe to re-run.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql seeds/*.sql
var embedded embed.FS

const (
	migrationsDir = "sql"
	seedsDir      = "seeds"
	dialect       = "pgx"
)

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// Seams for tests; they default to the goose package functions.
var (
	gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseDown = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.DownContext(ctx, db, dir, opts...)
	}
	gooseVersion = func(ctx context.Context, db *sql.DB) (int64, error) {
		return goose.GetDBVersionContext(ctx, db)
	}
)

// Manager runs migrations and seeds against one database.
type Manager struct {
	db    *sql.DB
	files fs.FS
}

// Option configures Manager.
type Option func(*Manager)

// WithFS replaces the embedded files. The FS must contain "sql" and
// "seeds" directories.
func WithFS(f fs.FS) Option {
	return func(m *Manager) {
		if f != nil {
			m.files = f
		}
	}
}

// NewManager constructs a Manager.
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{db: db, files: embedded}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(func() error {
		if err := gooseUp(ctx, m.db, migrationsDir); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// Down rolls back the most recent migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.run(func() error {
		if err := gooseDown(ctx, m.db, migrationsDir); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return nil
	})
}

// Seed applies every seed file. Seeds are not versioned.
func (m *Manager) Seed(ctx context.Context) error {
	return m.run(func() error {
		if err := gooseUp(ctx, m.db, seedsDir, goose.WithNoVersioning()); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		return nil
	})
}

// Version returns the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	var v int64
	err := m.run(func() error {
		var err error
		v, err = gooseVersion(ctx, m.db)
		if err != nil {
			return fmt.Errorf("schema version: %w", err)
		}
		return nil
	})
	return v, err
}

// Pending lists migration files newer than the current version.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	current, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	err = m.run(func() error {
		migrations, err := goose.CollectMigrations(migrationsDir, current, goose.MaxVersion)
		if errors.Is(err, goose.ErrNoMigrationFiles) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("collect migrations: %w", err)
		}
		for _, mig := range migrations {
			out = append(out, mig.Source)
		}
		return nil
	})
	return out, err
}

func (m *Manager) run(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(m.files)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return fn()
}

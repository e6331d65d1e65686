package migrate

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEmbeddedFilesAreAnnotated(t *testing.T) {
	for _, dir := range []string{migrationsDir, seedsDir} {
		entries, err := fs.ReadDir(embedded, dir)
		if err != nil {
			t.Fatalf("read %s: %v", dir, err)
		}
		if len(entries) == 0 {
			t.Fatalf("no files embedded in %s", dir)
		}
		for _, e := range entries {
			body, err := fs.ReadFile(embedded, dir+"/"+e.Name())
			if err != nil {
				t.Fatalf("read %s: %v", e.Name(), err)
			}
			text := string(body)
			if !strings.Contains(text, "-- +goose Up") || !strings.Contains(text, "-- +goose Down") {
				t.Fatalf("%s/%s is missing goose annotations", dir, e.Name())
			}
		}
	}
}

func TestUpUsesMigrationsDir(t *testing.T) {
	orig := gooseUp
	defer func() { gooseUp = orig }()
	var gotDir string
	var gotOpts int
	gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir, gotOpts = dir, len(opts)
		return nil
	}

	if err := NewManager(newDB(t)).Up(context.Background()); err != nil {
		t.Fatalf("Up error: %v", err)
	}
	if gotDir != migrationsDir || gotOpts != 0 {
		t.Fatalf("unexpected goose call: dir=%q opts=%d", gotDir, gotOpts)
	}
}

func TestSeedRunsWithoutVersioning(t *testing.T) {
	orig := gooseUp
	defer func() { gooseUp = orig }()
	var gotDir string
	var gotOpts int
	gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir, gotOpts = dir, len(opts)
		return nil
	}

	if err := NewManager(newDB(t)).Seed(context.Background()); err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	if gotDir != seedsDir || gotOpts != 1 {
		t.Fatalf("unexpected goose call: dir=%q opts=%d", gotDir, gotOpts)
	}
}

func TestErrorsAreWrapped(t *testing.T) {
	origUp, origDown := gooseUp, gooseDown
	defer func() { gooseUp, gooseDown = origUp, origDown }()
	boom := errors.New("boom")
	gooseUp = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error { return boom }
	gooseDown = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error { return boom }

	m := NewManager(newDB(t))
	for name, run := range map[string]func(context.Context) error{"up": m.Up, "down": m.Down, "seed": m.Seed} {
		if err := run(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("%s: expected wrapped boom, got %v", name, err)
		}
	}
}

func TestPendingListsNewerMigrations(t *testing.T) {
	orig := gooseVersion
	defer func() { gooseVersion = orig }()

	gooseVersion = func(context.Context, *sql.DB) (int64, error) { return 0, nil }
	pending, err := NewManager(newDB(t)).Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending error: %v", err)
	}
	if len(pending) != 1 || !strings.HasSuffix(pending[0], "00001_init.sql") {
		t.Fatalf("unexpected pending list: %v", pending)
	}

	gooseVersion = func(context.Context, *sql.DB) (int64, error) { return 1, nil }
	pending, err = NewManager(newDB(t)).Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected nothing pending, got %v", pending)
	}
}

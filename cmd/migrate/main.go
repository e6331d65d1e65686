package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"github.com/searchmarket/search-market-ats/internal/config"
	"github.com/searchmarket/search-market-ats/internal/migrate"
	"github.com/searchmarket/search-market-ats/internal/obs"
)

const usage = "usage: ats-migrate [flags] up|down|seed|status"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		obs.Logger().Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("ats-migrate", pflag.ContinueOnError)
	timeout := fs.Duration("timeout", 30*time.Second, "overall deadline for the command")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		fs.PrintDefaults()
	}
	cfg, err := config.Load(fs, args, os.Getenv)
	if err != nil {
		return err
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("missing DSN: provide via --dsn or ATS_PG_DSN")
	}
	if fs.NArg() != 1 {
		return errors.New(usage)
	}
	cmd := fs.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db)
	log := obs.Logger().With("command", cmd)

	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var (
			current int64
			pending []string
		)
		if current, err = mgr.Version(ctx); err != nil {
			break
		}
		if pending, err = mgr.Pending(ctx); err != nil {
			break
		}
		fmt.Printf("version: %d\n", current)
		for _, p := range pending {
			fmt.Printf("pending: %s\n", p)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", cmd, err)
	}
	log.Info("migrate done")
	return nil
}

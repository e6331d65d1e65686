// Command ats-sweep runs the ownership and reference sweeps once and prints
// the JSON report. It exits 1 when any pass reported a failure, so a plain
// crontab entry surfaces problems.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/searchmarket/search-market-ats/internal/clock"
	"github.com/searchmarket/search-market-ats/internal/config"
	"github.com/searchmarket/search-market-ats/internal/obs"
	"github.com/searchmarket/search-market-ats/internal/ownership"
	"github.com/searchmarket/search-market-ats/internal/references"
	"github.com/searchmarket/search-market-ats/internal/store"
)

const (
	jobOwnership  = "ownership"
	jobReferences = "references"
	jobAll        = "all"
)

type output struct {
	Success    bool                   `json:"success"`
	Ownership  *ownership.SweepReport `json:"ownership,omitempty"`
	References *references.Report     `json:"references,omitempty"`
}

func main() {
	code, err := run(os.Args[1:], os.Stdout)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		obs.Logger().Error("sweep failed", "error", err)
	}
	os.Exit(code)
}

func run(args []string, stdout io.Writer) (int, error) {
	fs := pflag.NewFlagSet("ats-sweep", pflag.ContinueOnError)
	job := fs.String("job", jobAll, "which sweep to run: ownership, references or all")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall deadline for the run")
	cfg, err := config.Load(fs, args, os.Getenv)
	if err != nil {
		return 2, err
	}
	switch *job {
	case jobOwnership, jobReferences, jobAll:
	default:
		return 2, fmt.Errorf("unknown job %q", *job)
	}
	if cfg.DatabaseDSN == "" {
		return 2, errors.New("missing DSN: provide via --dsn or ATS_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backend, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return 1, err
	}
	defer backend.Close()

	out := sweep(ctx, backend, *job, clock.Real())
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 1, fmt.Errorf("write report: %w", err)
	}
	if !out.Success {
		return 1, nil
	}
	return 0, nil
}

func sweep(ctx context.Context, b *store.Backend, job string, clk clock.Clock) output {
	out := output{Success: true}
	if job == jobOwnership || job == jobAll {
		report := ownership.NewSweeper(b.Candidates, b.Activity, clk).Run(ctx)
		out.Ownership = &report
		out.Success = out.Success && report.OK()
	}
	if job == jobReferences || job == jobAll {
		report := references.NewSweeper(b.References, references.LogNotifier{}, clk).Run(ctx)
		out.References = &report
		out.Success = out.Success && report.OK()
	}
	return out
}

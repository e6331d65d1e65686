package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/searchmarket/search-market-ats/internal/auth"
	"github.com/searchmarket/search-market-ats/internal/clock"
	"github.com/searchmarket/search-market-ats/internal/config"
	"github.com/searchmarket/search-market-ats/internal/httpapi"
	"github.com/searchmarket/search-market-ats/internal/obs"
	"github.com/searchmarket/search-market-ats/internal/ownership"
	"github.com/searchmarket/search-market-ats/internal/references"
	"github.com/searchmarket/search-market-ats/internal/store"
	"github.com/searchmarket/search-market-ats/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		obs.Logger().Error("ats-api exited", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("ats-api", pflag.ContinueOnError)
	cfg, err := config.Load(fs, args, os.Getenv)
	if err != nil {
		return err
	}

	obs.Init()
	log := obs.Logger()

	authn, err := auth.NewAuthenticator(cfg.AuthSecret)
	if err != nil {
		return fmt.Errorf("auth: %w (set ATS_AUTH_SECRET)", err)
	}
	if cfg.CronSecret == "" {
		log.Warn("cron secret not set, sweep endpoints will reject every call")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	backend, err := store.Open(ctx, cfg.DatabaseDSN)
	cancel()
	if err != nil {
		return err
	}
	defer backend.Close()
	obs.InitBuildInfo(version, commit, obs.StoreLabel(backend.Persistent()))
	if !backend.Persistent() {
		log.Warn("no database configured, records are kept in memory")
	}

	clk := clock.Real()
	svc := httpapi.Services{
		Candidates:     ownership.NewCandidateEngine(backend.Candidates, backend.Activity, clk),
		Clients:        ownership.NewClientEngine(backend.Clients, backend.Grants, backend.Activity, clk),
		CandidateSweep: ownership.NewSweeper(backend.Candidates, backend.Activity, clk),
		References:     references.NewService(backend.References, backend.Candidates, clk),
		ReferenceSweep: references.NewSweeper(backend.References, references.LogNotifier{}, clk),
		Stream:         stream.New(),
		Auth:           authn,
	}
	api := httpapi.New(httpapi.ReadyProbe{DB: backend.DB}, version, svc, httpapi.Options{
		CronSecret:     cfg.CronSecret,
		RateBurst:      cfg.RateBurst,
		RatePerSecond:  cfg.RatePerSecond,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AllowedOrigins: cfg.AllowedOrigins,
		Clock:          clk,
	})

	// WriteTimeout stays zero so /v1/events can hold its connection open.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting ats-api", "version", version, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-stop:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}

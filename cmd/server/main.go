package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"memberpass/internal/platform/config"
	"memberpass/internal/platform/httpserver"
	"memberpass/internal/platform/logger"
)

// main loads configuration, wires the engine and runs the HTTP server and
// background workers until SIGINT or SIGTERM.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "memberpass: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.Server.Addr, a.router)
	if err := a.warmer.Start(); err != nil {
		return multierr.Append(err, a.close())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting memberpass", "addr", cfg.Server.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, w := range a.invalidators {
		g.Go(func() error {
			if err := w.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		var errs error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		select {
		case <-a.warmer.Stop().Done():
		case <-shutdownCtx.Done():
			errs = multierr.Append(errs, errors.New("cache warm did not stop before shutdown deadline"))
		}
		return errs
	})

	runErr := g.Wait()
	return multierr.Append(runErr, a.close())
}

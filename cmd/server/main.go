// Package main runs the access governance HTTP server and its background
// jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"farm-access/internal/app"
	"farm-access/internal/catalog"
	"farm-access/internal/config"
	internaldb "farm-access/internal/db"
	"farm-access/internal/notify"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	// Write pool: single connection (WAL + txlock=immediate).
	// Read pool: concurrent reads for resolver checks and drift snapshots.
	store, err := internaldb.OpenStore(cfg.DBPath, 4)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	notifier, err := notify.New(notify.Config{
		Backend:   cfg.Notify.Backend,
		AMQPURL:   cfg.Notify.AMQPURL,
		RedisAddr: cfg.Notify.RedisAddr,
	}, logger)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer notifier.Close() //nolint:errcheck

	registry := prometheus.NewRegistry()
	a, err := app.New(app.Deps{
		Cfg:      cfg,
		Store:    store,
		Catalog:  cat,
		Notifier: notifier,
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		return err
	}

	validator, err := app.NewValidator(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("token validator: %w", err)
	}

	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Shutdown()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Router(validator, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.ListenAddr,
			"permissions", len(cat.Permissions()), "roles", len(cat.Roles()))
		logger.Info("try: curl -H 'Authorization: Bearer <jwt>' http://" + curlHostForListenAddr(cfg.ListenAddr) + "/v1/access-requests")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// curlHostForListenAddr turns a listen address into a host:port usable in a
// curl hint. Wildcard and empty hosts become localhost.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

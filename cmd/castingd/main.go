// Command castingd serves the casting agency API.
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
	"time"

	"github.com/ggoodman/casting-api/auth"
	"github.com/ggoodman/casting-api/castinghttp"
	"github.com/ggoodman/casting-api/internal/policy"
	"github.com/ggoodman/casting-api/storage"
	"github.com/ggoodman/casting-api/storage/memory"
	"github.com/ggoodman/casting-api/storage/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "castingd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level, _ := cfg.level()
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	verifier, err := auth.NewVerifier(ctx, cfg.Auth, auth.WithHTTPClient(&http.Client{Timeout: cfg.Auth.FetchTimeout}))
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := verifier.Refresh(ctx); err != nil {
		// Not fatal: keys are fetched again on first use.
		log.WarnContext(ctx, "jwks.prefetch.fail", slog.String("err", err.Error()))
	}
	go func() {
		if err := verifier.WatchKeyFile(ctx, log); err != nil && !errors.Is(err, context.Canceled) {
			log.ErrorContext(ctx, "jwks.watch.fail", slog.String("err", err.Error()))
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	pol := policy.Default()
	if cfg.RoutePolicyFile != "" {
		override, err := policy.Load(cfg.RoutePolicyFile)
		if err != nil {
			return err
		}
		pol = pol.Override(override)
	}

	opts := []castinghttp.Option{
		castinghttp.WithLogger(log),
		castinghttp.WithPolicy(pol),
		castinghttp.WithRealm(cfg.Realm),
	}
	if cfg.Resource != "" {
		opts = append(opts, castinghttp.WithProtectedResource(cfg.Resource, cfg.Auth.Issuer, verifier.JWKSURL()))
	}
	h, err := castinghttp.New(store, verifier, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "http.listen", slog.String("addr", cfg.ListenAddr), slog.String("store", cfg.Store))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("http.shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config) (storage.Store, error) {
	if cfg.Store == "redis" {
		s, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		return s, nil
	}
	return memory.New(), nil
}

// Command dedupd serves the per-domain seen-URL cache over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/crawl-dedup/internal/api"
	"github.com/Sternrassler/crawl-dedup/internal/backend"
	"github.com/Sternrassler/crawl-dedup/pkg/config"
	"github.com/Sternrassler/crawl-dedup/pkg/dedup"
	"github.com/Sternrassler/crawl-dedup/pkg/logging"
	"github.com/Sternrassler/crawl-dedup/pkg/pagination"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "dedupd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger(logging.ComponentServer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := backend.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer func() {
		if err := backends.Close(); err != nil {
			logger.Error().Err(err).Msg("Closing backends failed")
		}
	}()

	cache := dedup.New(backends.Collections, cfg.CacheConfig())

	var global *dedup.GlobalSet
	if cfg.Dedup.GlobalEnabled {
		global, err = dedup.LoadRecent(ctx, backends.Collections, dedup.GlobalConfig{
			Collection: cfg.Dedup.GlobalCollection,
			MaxItems:   cfg.Dedup.GlobalMaxItems,
			Load: pagination.Options{
				BatchSize:    cfg.Loader.BatchSize,
				Concurrency:  cfg.Loader.Concurrency,
				FetchTimeout: cfg.Loader.FetchTimeout,
			},
		})
		if err != nil {
			return fmt.Errorf("load global state: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(cache, global).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().
			Int("port", cfg.Server.Port).
			Str("collections", cfg.Store.Collections).
			Str("kv", cfg.Store.KV).
			Bool("global", global != nil).
			Msg("HTTP server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}

// Package main is the entry point for the loyalty engine daemon.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"loyalty-engine/internal/config"
	"loyalty-engine/internal/event"
	"loyalty-engine/internal/metrics"
	"loyalty-engine/internal/pkg/db"
	"loyalty-engine/internal/pkg/lock"
	"loyalty-engine/internal/repository"
	"loyalty-engine/internal/rule"
	"loyalty-engine/internal/service"
)

const (
	healthTimeout   = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.Log.ZerologLevel())

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Repositories
	memberRepo := repository.NewMemberRepository(dbPool.Pool)
	economyRepo := repository.NewEconomyRepository(dbPool.Pool)
	actionRepo := repository.NewActionLogRepository(dbPool.Pool)
	ruleRepo := repository.NewRuleRepository(dbPool.Pool)
	catalogRepo := repository.NewCatalogRepository(dbPool.Pool)

	collector := metrics.New()

	bus := event.NewBus(cfg.Economy.MaxCascadeDepth)
	bus.SetObserver(collector)

	userLock := lock.NewUserLock()

	engine := service.NewEngine(
		service.Stores{
			Members: memberRepo,
			Economy: economyRepo,
			Actions: actionRepo,
			Rules:   ruleRepo,
			Catalog: catalogRepo,
			Tx:      service.NewRepositoryTransactor(repository.NewTransactor(dbPool.Pool)),
		},
		bus,
		userLock,
		service.EngineConfig{
			FloorRank:      rule.FloorRank(cfg.Economy.FloorRankKey, cfg.Economy.FloorRankName),
			LockTimeout:    cfg.Economy.LockTimeout,
			CacheSize:      cfg.Cache.Size,
			RankTTL:        cfg.Cache.RankTTL,
			AchievementTTL: cfg.Cache.AchievementTTL,
		},
		collector,
	)

	log.Info().
		Int("listeners", len(engine.Subscriptions())).
		Int("max_cascade_depth", cfg.Economy.MaxCascadeDepth).
		Msg("Rule engines registered")

	// SIGHUP drops the cached rank and achievement catalogs.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			engine.InvalidateCatalogs()
			log.Info().Msg("Rank and achievement catalogs invalidated")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbPool.HealthCheck(r.Context(), healthTimeout); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics listener starting...")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics listener failed")
			sigChan <- syscall.SIGTERM
		}
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics listener shutdown failed")
	}
	log.Info().Msg("Loyalty engine stopped gracefully")
}

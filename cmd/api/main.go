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

	"queue_dashboard_backend/internal/dashboard"
	"queue_dashboard_backend/internal/dashboard/agents"
	"queue_dashboard_backend/internal/dashboard/bootstrap"
	"queue_dashboard_backend/internal/events"
	apphttp "queue_dashboard_backend/internal/http"
	"queue_dashboard_backend/internal/http/router"
	"queue_dashboard_backend/internal/telephony"
	"queue_dashboard_backend/platform/config"
	"queue_dashboard_backend/platform/logger"
	"queue_dashboard_backend/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "region", cfg.PlatformRegion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	platform := telephony.New(cfg, cfg.GetActiveConversationPageSize(), log)
	openChannel := func(ctx context.Context) (bootstrap.Channel, error) {
		ch, err := platform.OpenChannel(ctx)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}

	agentCache, closeCache := initAgentCache(ctx, cfg, log)
	defer closeCache()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	dashboardModule := dashboard.NewModule(dashboard.Deps{
		Config:      cfg,
		Platform:    platform,
		OpenChannel: openChannel,
		AgentCache:  agentCache,
		Bus:         eventBus,
		Validator:   val,
		Logger:      log,
	})

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  dashboardModule,
		Modules: []apphttp.Module{dashboardModule},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	go func() {
		if err := startDashboard(ctx, log, dashboardModule); err != nil && ctx.Err() == nil {
			log.Error("dashboard bootstrap failed", "error", err)
			stop()
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		log.Error("server error", "error", err)
	case err := <-dashboardModule.Lost():
		log.Error("dashboard stopped receiving notifications", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// SSE handlers only return once their channels close.
	dashboardModule.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	log.Info("server stopped")
}

// startDashboard runs the startup sequence, retrying transient failures.
// Each attempt gets its own context so a failed attempt's channel listener
// and retry worker stop before the next one starts.
func startDashboard(ctx context.Context, log *logger.Logger, m *dashboard.Module) error {
	return withRetry(ctx, log, "dashboard bootstrap", 5, 2*time.Second, func() error {
		runCtx, cancel := context.WithCancel(ctx)
		snap, err := m.Start(runCtx)
		if err != nil {
			cancel()
			return err
		}
		context.AfterFunc(ctx, cancel)
		log.Info("dashboard ready", "version", snap.Version, "queues", len(snap.Queues))
		return nil
	})
}

func initAgentCache(ctx context.Context, cfg config.AgentCacheConfig, log *logger.Logger) (agents.Cache, func()) {
	if cfg.GetRedisURL() == "" {
		log.Info("REDIS_URL not configured; using in-process agent cache")
		return agents.NewMemoryCache(cfg.GetAgentCacheTTL()), func() {}
	}

	cache, err := agents.NewRedisCacheFromURL(ctx, cfg.GetRedisURL(), cfg.GetAgentCacheTTL())
	if err != nil {
		log.Warn("redis agent cache unavailable; using in-process cache", "error", err)
		return agents.NewMemoryCache(cfg.GetAgentCacheTTL()), func() {}
	}

	log.Info("redis agent cache connected")
	return cache, func() {
		_ = cache.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}

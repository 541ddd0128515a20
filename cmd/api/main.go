package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Its-darshu/DarkSphere-sub000/internal/app/migrate"
	"github.com/Its-darshu/DarkSphere-sub000/internal/cache"
	httpx "github.com/Its-darshu/DarkSphere-sub000/internal/http"
	"github.com/Its-darshu/DarkSphere-sub000/internal/repository/postgres"
	"github.com/Its-darshu/DarkSphere-sub000/internal/service/admin"
	"github.com/Its-darshu/DarkSphere-sub000/internal/service/auth"
	"github.com/Its-darshu/DarkSphere-sub000/internal/service/content"
	"github.com/Its-darshu/DarkSphere-sub000/internal/ws"
	"github.com/Its-darshu/DarkSphere-sub000/pkg/config"
	"github.com/Its-darshu/DarkSphere-sub000/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool, cfg.StoreQueryTimeout)
	hub := ws.NewHub()

	userCache := cache.New("users", cfg.UserCacheTTL, cfg.UserCacheCapacity, cfg.CacheSweepInterval)
	defer userCache.Close()
	postCache := cache.New("posts", cfg.PostCacheTTL, cfg.PostCacheCapacity, cfg.CacheSweepInterval)
	defer postCache.Close()
	announcementCache := cache.New("announcements", cfg.AnnouncementCacheTTL, cfg.AnnouncementCacheCapacity, cfg.CacheSweepInterval)
	defer announcementCache.Close()

	caches := []*cache.Cache{userCache, postCache, announcementCache}
	if err := prometheus.Register(cache.NewCollector(caches...)); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			log.Warn("cache metrics registration failed", "error", err)
		}
	}

	authSvc := auth.New(repo, repo, userCache, log, cfg)
	adminSvc := admin.New(repo, repo, repo, repo, repo, userCache, postCache, hub, log, cfg)
	contentSvc := content.New(repo, repo, repo, postCache, announcementCache, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	devMode := cfg.Environment == "development"
	router := httpx.NewRouter(log, authSvc, adminSvc, contentSvc, hub, limiter, caches, pool.Ping, devMode)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

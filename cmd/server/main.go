package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cooperblacks/liaotian/internal/auth"
	"github.com/cooperblacks/liaotian/internal/cache"
	"github.com/cooperblacks/liaotian/internal/config"
	"github.com/cooperblacks/liaotian/internal/database"
	"github.com/cooperblacks/liaotian/internal/media"
	"github.com/cooperblacks/liaotian/internal/realtime"
	"github.com/cooperblacks/liaotian/internal/server"
	"github.com/cooperblacks/liaotian/internal/settings"
	"github.com/cooperblacks/liaotian/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	slog.Info("Connecting to database")
	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	slog.Info("Running migrations")
	if err := database.RunMigrations(ctx, pool, database.Migrations()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Migrations complete")

	// Profile cache: Redis when configured, in-process map otherwise.
	cacheTTL := time.Duration(cfg.ProfileCacheTTL) * time.Second
	var profileCache cache.ProfileCache
	if cfg.RedisURL != "" {
		profileCache, err = cache.NewRedis(ctx, cfg.RedisURL, cacheTTL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		slog.Info("Profile cache backed by redis")
	} else {
		profileCache = cache.NewMemory(cacheTTL)
		slog.Info("Profile cache in-memory, set REDIS_URL for shared caching")
	}

	authService := auth.NewService(pool, cfg.JWTSecret, cfg.SiteURL, cfg.JWTExpiry, cfg.PasswordMinLength, cfg.EnableSignup)
	st := store.New(pool)
	settingsService := settings.NewService(st, authService, profileCache, logger)
	hub := realtime.NewHub(logger)

	// Media store is optional: without credentials the media routes are
	// simply not registered.
	var mediaStore *media.Store
	if cfg.MediaAccessKey != "" {
		mediaStore, err = media.NewStore(ctx, cfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize media store: %v", err)
		}
		slog.Info("Media store ready", "bucket", cfg.MediaBucket)
	} else {
		slog.Warn("Media store disabled, set MEDIA_S3_ACCESS_KEY to enable uploads")
	}

	srv := server.New(authService, st, settingsService, profileCache, mediaStore, hub, pool)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("Shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		httpServer.Shutdown(shutCtx)
		pool.Close()
	}()

	slog.Info("Server started", "host", cfg.Host, "port", cfg.Port)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"

	"pagepress/internal/config"
	"pagepress/internal/export"
	"pagepress/internal/http/server"
	"pagepress/internal/infra/logging"
	"pagepress/internal/infra/pdfcache"
	"pagepress/internal/infra/postgres"
	"pagepress/internal/render"
	"pagepress/internal/tokens"
)

func main() {
	cfg := config.Load()
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.PDFCacheDB,
		})
		defer rdb.Close()
	}

	var tokenCache *tokens.Cache
	if cfg.Auth.Enabled {
		db := postgres.NewDB()
		defer db.Close()
		tokenCache = startTokenReloader(ctx, cfg, db)
	}

	archiver, err := export.NewArchiver(ctx, cfg.Storage)
	if err != nil {
		logging.Error("Archiver disabled", "backend", cfg.Storage.Backend, "error", err)
	}

	app := buildApp(cfg, rdb, tokenCache, archiver)
	startServer(app, cfg)
}

// buildApp wires the renderer, caches and stores into the HTTP app.
func buildApp(cfg config.Config, rdb *redis.Client, tokenCache *tokens.Cache, archiver export.Archiver) *fiber.App {
	var cache *pdfcache.Cache
	if cfg.Cache.PDFCacheEnabled {
		cache = pdfcache.New(rdb, cfg.Cache.PDFCacheTTL)
	}
	return server.New(server.Deps{
		Config:   cfg,
		Renderer: render.New(cfg.Render),
		Cache:    cache,
		Archiver: archiver,
		Tokens:   tokenCache,
	})
}

func startTokenReloader(ctx context.Context, cfg config.Config, db *postgres.DB) *tokens.Cache {
	cache := tokens.NewCache()
	dsn, err := postgres.DSN(cfg.Auth.Postgres)
	if err != nil {
		logging.Error("Invalid token database config", "error", err)
		return cache
	}

	reloader := tokens.NewReloader(postgres.NewTokenRepository(db, dsn), cache, cfg.Auth.ReloadInterval)
	if err := reloader.LoadOnce(ctx); err != nil {
		logging.Error("Failed to load API tokens", "error", err)
	}
	reloader.Start(ctx)
	return cache
}

// startServer runs the app until SIGINT or SIGTERM, then shuts it down.
func startServer(app *fiber.App, cfg config.Config) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}
	logging.Info("Server stopped cleanly")
}

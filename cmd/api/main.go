package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storyboard/api/internal/app"
	"storyboard/api/internal/auth"
	"storyboard/api/internal/config"
	"storyboard/api/internal/plugin"
	"storyboard/api/internal/search"
	"storyboard/api/internal/store"
	"storyboard/api/internal/tokencache"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	openidClient := auth.NewOpenIDClient(cfg.OpenIDURL, 10*time.Second)
	authService := auth.NewService(dataStore, openidClient, cfg.CodeTTL, cfg.AccessTTL, cfg.RefreshTTL, cfg.OAuthClients)

	var cache *tokencache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err = tokencache.New(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, token validation falls back to the database: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	registry := plugin.NewRegistry()
	state, err := plugin.NewState(cfg.WorkingDir)
	if err != nil {
		log.Fatalf("plugin state: %v", err)
	}
	if err := registry.Register(plugin.NewEmailSender(&cfg, dataStore, state)); err != nil {
		log.Fatalf("register email plugin: %v", err)
	}

	if cfg.SchedulerEnable {
		scheduler, err := plugin.NewScheduler(cfg.WorkingDir, registry, state)
		if err != nil {
			log.Fatalf("scheduler: %v", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}
	if cfg.CronEnable {
		if err := plugin.NewCronManager(registry).Reconcile(); err != nil {
			log.Printf("WARNING: crontab reconcile failed: %v", err)
		}
	}

	service := app.NewService(dataStore, authService, cache, searchService, registry.DefaultPreferences(), version)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("StoryBoard API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

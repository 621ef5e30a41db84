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

	"ticketsync/internal/app"
	"ticketsync/internal/archive"
	"ticketsync/internal/config"
	"ticketsync/internal/search"
	"ticketsync/internal/store"
	"ticketsync/internal/synccache"
	"ticketsync/internal/zendesk"
)

func main() {
	cfg := config.Load()
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
	tickets := zendesk.NewClient(cfg.ZendeskURL, cfg.ZendeskUsername, cfg.ZendeskAPIToken)
	service := app.New(cfg, dataStore, tickets)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err := synccache.New(cfg.RedisURL, cfg.SyncCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer cache.Close()
		service.UseCache(cache)
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		indexer := search.NewIndexer(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer indexer.Close()
		service.UseIndexer(indexer)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err := archive.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio client failed: %v", err)
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: attachment bucket not ready: %v", err)
		}
		service.UseArchiver(archiver)
	}

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
		log.Printf("ticketsync API listening on %s", cfg.Addr)
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

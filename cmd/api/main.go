package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"billdesk/api/db"
	"billdesk/api/internal/app"
	"billdesk/api/internal/archive"
	"billdesk/api/internal/config"
	"billdesk/api/internal/jobs"
	"billdesk/api/internal/search"
	"billdesk/api/internal/session"
	"billdesk/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	conn, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer conn.Close()

	var migrations fs.FS = db.Migrations()
	if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
		migrations = os.DirFS(dir)
	}
	if err := store.ApplyMigrations(ctx, conn, migrations); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(conn)
	pgfts := search.NewPgFTS(conn)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexFromPG(ctx)
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	var uploads *archive.Store
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		uploads, err = archive.New(ctx, archive.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: upload archive disabled: %v", err)
			uploads = nil
		}
	}
	if uploads != nil {
		scheduler, err := jobs.StartArchiveSweep(cfg.ArchiveSweepSchedule, cfg.ArchiveRetention, uploads)
		if err != nil {
			log.Fatalf("archive sweep: %v", err)
		}
		defer scheduler.Stop()
	}

	service := app.New(cfg, dataStore, sessions, searchService, uploads)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Billdesk import API listening on %s", cfg.Addr)
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

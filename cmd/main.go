// Package main is the entry point for the vgrab download bot.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vgrab/vgrab/internal/api/handlers"
	"github.com/vgrab/vgrab/internal/api/router"
	"github.com/vgrab/vgrab/internal/bot"
	"github.com/vgrab/vgrab/internal/config"
	"github.com/vgrab/vgrab/internal/database"
	"github.com/vgrab/vgrab/internal/services/delivery"
	"github.com/vgrab/vgrab/internal/services/extractor"
	"github.com/vgrab/vgrab/internal/services/formats"
	"github.com/vgrab/vgrab/internal/services/queue"
	"github.com/vgrab/vgrab/internal/services/selection"
	"github.com/vgrab/vgrab/internal/services/storage"
	"github.com/vgrab/vgrab/internal/services/workspace"
	"github.com/vgrab/vgrab/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := utils.GetLogger()
	logger.Info("Starting vgrab download bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Authorization store
	db, err := database.NewPostgresDB(&cfg.Postgres)
	if err != nil {
		logger.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	if err := db.EnsureAdmin(ctx, cfg.Telegram.AdminChatID); err != nil {
		logger.Fatalf("Failed to seed admin user: %v", err)
	}

	// Scratch space, with a sweep for leftovers from an unclean shutdown
	ws, err := workspace.NewManager(cfg.Download.TempDir, cfg.Download.OrphanMaxAge)
	if err != nil {
		logger.Fatalf("Failed to initialize workspace: %v", err)
	}
	if _, err := ws.SweepOrphans(ctx); err != nil {
		logger.Warnf("Orphan sweep failed: %v", err)
	}

	// Optional artifact archive
	var archiver storage.Archiver
	if cfg.S3.Enabled() {
		s3Storage, err := storage.NewS3Storage(&cfg.S3)
		if err != nil {
			logger.Fatalf("Failed to initialize S3 archive: %v", err)
		}
		archiver = s3Storage
		logger.Infof("Artifact archive enabled, bucket %s", s3Storage.BucketName())
	}

	// Extraction and format resolution
	ytClient := extractor.NewYouTubeClient(cfg.Download.MaxOutputSize)
	resolver := formats.NewResolver(ytClient)
	selections := selection.NewStore(cfg.Selection.TTL, cfg.Selection.MaxEntries)

	// The reporter's sender is the bot, which needs the queue; wire the
	// sender in after both exist.
	reporter := delivery.NewReporter(nil, archiver, cfg.Telegram.AdminChatID, cfg.Download.MaxOutputSize)
	q := queue.New(cfg.Download, ytClient, ws, reporter)

	tgBot, err := bot.New(cfg.Telegram.Token, cfg.Telegram.AdminChatID, db, q, resolver, selections, ytClient.IsSupportedURL, cfg.Download.MaxConcurrentDownloads)
	if err != nil {
		logger.Fatalf("Failed to initialize bot: %v", err)
	}
	reporter.SetSender(tgBot)

	q.Start(ctx)

	// Ops HTTP surface
	healthHandler := handlers.NewHealthHandler(db)
	queueHandler := handlers.NewQueueHandler(q)
	r := router.NewRouter(cfg, healthHandler, queueHandler)

	go func() {
		logger.Infof("Starting ops server on %s:%s", cfg.Server.Host, cfg.Server.Port)
		if err := r.Start(); err != nil {
			logger.Fatalf("Ops server failed: %v", err)
		}
	}()

	go func() {
		if err := tgBot.Run(ctx); err != nil {
			logger.Fatalf("Bot update loop failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Drain the queue before killing the parent context: Shutdown marks the
	// in-flight tasks as internally cancelled so their users are not told
	// the downloads failed.
	if err := q.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Queue did not drain cleanly: %v", err)
	}
	cancel()

	if err := r.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Failed to stop ops server: %v", err)
	}
	db.Close()

	logger.Info("Shutdown complete")
}

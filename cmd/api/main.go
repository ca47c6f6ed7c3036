// Package main is the entry point for the canvas backend: it wires the
// control plane HTTP API and the streaming WebSocket listener around a
// shared store, bus, and hub, then runs both until a shutdown signal.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"canvashub/internal/archive"
	"canvashub/internal/auth"
	"canvashub/internal/bus"
	"canvashub/internal/config"
	"canvashub/internal/controlplane"
	"canvashub/internal/hub"
	"canvashub/internal/identity"
	"canvashub/internal/logging"
	"canvashub/internal/notify"
	"canvashub/internal/store"
	"canvashub/internal/transport"
)

func main() {
	_ = godotenv.Load()

	log, err := logging.New(false)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("critical error loading configuration", "error", err)
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("critical error connecting to the database", "error", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatalw("critical error applying database migrations", "error", err)
	}

	tokens := auth.New(cfg.JWTSecret)
	extractor := identity.New(tokens)

	busReg := bus.NewRegistry(cfg.BusBufferSize)
	h := hub.New(log)
	go h.Run()

	s3Service, err := archive.NewS3Service(archive.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
	}, log)
	if err != nil {
		log.Fatalw("critical error creating S3 archive service", "error", err)
	}
	archiver := archive.NewArchiver(db, s3Service, cfg.ArchiveInterval, log)

	notifier := notify.New(cfg.TelegramBotToken, cfg.TelegramChatID, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go archiver.Run(ctx, db.ListCanvasIDs)

	maintenanceEnabled := false
	router := controlplane.NewRouter(ctx, db, tokens, busReg, archiver, notifier, controlplane.Options{
		CORSAllowedOrigins: "",
		MaintenanceMessage: "",
		IsMaintenance:      func() bool { return maintenanceEnabled },
	}, log)

	controlSrv := &http.Server{Addr: cfg.BindTo, Handler: router}
	go func() {
		log.Infow("control plane listening", "addr", cfg.BindTo)
		if err := controlSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("control plane server failed", "error", err)
		}
	}()

	listener := transport.New(extractor, db, h, busReg, log, cfg.RightRecheckInterval)
	streamSrv := &http.Server{Addr: cfg.StreamBindAddr, Handler: listener}
	go func() {
		log.Infow("streaming listener listening", "addr", cfg.StreamBindAddr)
		if err := streamSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("streaming server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Infow("shutdown signal received, starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := controlSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during control plane shutdown", "error", err)
	}
	if err := streamSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during streaming listener shutdown", "error", err)
	}

	log.Infow("exiting")
	time.Sleep(100 * time.Millisecond)
}

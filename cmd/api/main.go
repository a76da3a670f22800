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

	"railway-accident-analytics/config"
	"railway-accident-analytics/database"
	"railway-accident-analytics/logging"
	"railway-accident-analytics/services"
	"railway-accident-analytics/store"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	gin.SetMode(cfg.Server.Mode)
	log := logger.WithField("service", "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Migrate {
		if err := database.Migrate(cfg.Database.GetURL(), log); err != nil {
			log.WithError(err).Fatal("migrations failed")
		}
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.WithError(err).Fatal("failed to get sql db handle")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		log.WithError(err).Fatal("failed to ping database")
	}
	if cfg.Database.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxConns)
	}
	defer sqlDB.Close()

	cache, err := services.NewCacheService(cfg.Redis, log)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, caching and live updates disabled")
	}
	defer cache.Close()

	snapshots, err := store.NewSnapshotStore(cfg.Model.SnapshotDB)
	if err != nil {
		log.WithError(err).Fatal("failed to open snapshot store")
	}
	defer snapshots.Close()

	models := services.NewModelService(services.TrainOptions(cfg.Model), snapshots, cache, log)
	if err := models.Restore(ctx); err != nil {
		log.WithError(err).Warn("stored pipeline could not be restored")
	}

	assistant, err := services.NewAssistant(cfg.Assistant, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create assistant")
	}
	archive, err := services.NewArchiveService(ctx, cfg.Archive, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create dataset archive")
	}

	router := setupRouter(deps{
		cfg:       cfg,
		db:        db,
		cache:     cache,
		auth:      services.NewAuthService(cfg.JWT),
		models:    models,
		assistant: assistant,
		archive:   archive,
		log:       log,
	})

	// Start server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", srv.Addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("stopped")
}

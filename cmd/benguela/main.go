package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/seaward/benguela/internal/api"
	"github.com/seaward/benguela/internal/config"
	"github.com/seaward/benguela/internal/events"
	"github.com/seaward/benguela/internal/notify"
	"github.com/seaward/benguela/internal/steps"
	pgstore "github.com/seaward/benguela/internal/store"
	"github.com/seaward/benguela/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Benguela...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/benguela.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize run archive
	var archive *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without run archive", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			archive = ps
		}
	}

	// Initialize event bus
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(busErr))
		} else {
			bus = b
			logger.Info("Event bus initialized")
		}
	}

	// Build the workflow engine
	registry := workflow.NewRegistry(logger)
	steps.Register(registry)
	catalog := workflow.NewCatalog(logger)
	wfStore := workflow.NewStore(logger)
	engine := workflow.NewEngine(registry, wfStore, cfg.Scheduler.PoolSize, logger)

	if bus != nil {
		engine.SetEvents(bus)
	}
	if archive != nil {
		engine.SetArchive(archive)
	}
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		engine.SetNotifier(notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
		logger.Info("Slack notifications enabled", zap.String("channel", cfg.Notify.Slack.Channel))
	}

	// Promote scheduled workflows when their time comes
	dispatcher := workflow.NewDispatcher(engine, wfStore, cfg.Scheduler.PollInterval(), logger)
	dispatcher.Start()

	// Build HTTP handler
	handler := api.NewHandler(catalog, wfStore, engine, archive, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Benguela listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Benguela...")
	dispatcher.Stop()
	srv.Shutdown(context.Background())
	if bus != nil {
		bus.Close()
	}
	if archive != nil {
		archive.Close()
	}
}

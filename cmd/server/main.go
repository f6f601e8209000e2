package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SAP-F-2025/live-session-service/internal/cache"
	"github.com/SAP-F-2025/live-session-service/internal/config"
	"github.com/SAP-F-2025/live-session-service/internal/handlers"
	"github.com/SAP-F-2025/live-session-service/internal/middleware"
	"github.com/SAP-F-2025/live-session-service/internal/realtime"
	"github.com/SAP-F-2025/live-session-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/live-session-service/internal/services"
	"github.com/SAP-F-2025/live-session-service/internal/session"
	"github.com/SAP-F-2025/live-session-service/internal/utils"
	"github.com/SAP-F-2025/live-session-service/internal/validator"
	"github.com/SAP-F-2025/live-session-service/pkg"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := utils.NewLogger(cfg.Environment)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return err
	}
	if err := postgres.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	redisClient, err := pkg.NewRedisClient(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	publisher, err := cfg.Events.CreateEventPublisher(logger)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	defer publisher.Close()

	relay, err := cfg.Relay.CreateRelay(logger)
	if err != nil {
		return fmt.Errorf("failed to create room relay: %w", err)
	}
	if relay != nil {
		defer relay.Close()
	}

	presence := realtime.NewRedisPresence(redisClient, cfg.Session.PresenceTTL)
	hub := realtime.NewHub(realtime.HubOptions{
		NodeID:   cfg.NodeID,
		Presence: presence,
		Relay:    relay,
		Logger:   logger,
	})
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	v := validator.New()
	store := session.NewRedisStore(redisClient, cache.NewRedisCache(redisClient, logger), cfg.Session.IdleTTL, logger)

	serviceManager := services.NewServiceManager(services.ServiceDeps{
		Repo:      postgres.NewRepository(db),
		Store:     store,
		Rooms:     hub,
		Presence:  presence,
		Publisher: publisher,
		Validator: v,
		Options: services.SessionOptions{
			IdleTTL:        cfg.Session.IdleTTL,
			RetryBackoff:   cfg.Session.RetryBackoff,
			SweepBatchSize: cfg.Session.SweepBatchSize,
		},
		Logger: logger,
	})

	sweeper := services.NewSweeper(serviceManager.Session(), cfg.Session.SweepInterval, logger)
	go sweeper.Run(ctx)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handlerLogger := utils.NewSlogLogger(logger)
	router.Use(gin.Recovery(), utils.LoggerMiddleware(handlerLogger))

	handlers.NewHandlerManager(
		serviceManager,
		v,
		middleware.NewAuthenticator(cfg),
		cfg.Session.SendBuffer,
		handlerLogger,
	).SetupRoutes(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment, "node_id", hub.NodeID())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by the http server
	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("sweeper stop: %w", err))
	}

	logger.Info("Server stopped")
	return errors.Join(errs...)
}

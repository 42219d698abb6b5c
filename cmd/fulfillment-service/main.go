package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/barcode"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/consumers"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/events"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/handler"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/repository"
	"github.com/dispatchrx/dispatchrx-backend/internal/fulfillment/service"
	"github.com/dispatchrx/dispatchrx-backend/migrations"
	"github.com/dispatchrx/dispatchrx-backend/pkg/config"
	"github.com/dispatchrx/dispatchrx-backend/pkg/database"
	"github.com/dispatchrx/dispatchrx-backend/pkg/httputil"
	"github.com/dispatchrx/dispatchrx-backend/pkg/i18n"
	"github.com/dispatchrx/dispatchrx-backend/pkg/logger"
	"github.com/dispatchrx/dispatchrx-backend/pkg/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "fulfillment-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Fulfillment Service")

	if err := i18n.Check(); err != nil {
		log.Fatal().Err(err).Msg("message catalog is broken")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, migrations.Fulfillment()); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().Msg("database schema up to date")
	}

	rmq, err := messaging.New(ctx, &cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Result deliveries that keep failing are parked here
	dlq, err := rmq.DeclareDeadLetterQueue(serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}
	log.Info().Str("queue", dlq).Msg("dead letter queue ready")

	publisher, err := events.NewFulfillmentEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	notifier, err := events.NewNotificationPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create notification publisher")
	}

	documentRepo := repository.NewDocumentRepository(db)
	deltaRepo := repository.NewDeltaRepository(db)
	manifestRepo := repository.NewManifestRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	fulfillmentService := service.NewFulfillmentService(service.Dependencies{
		Documents: documentRepo,
		Manifests: manifestRepo,
		Deltas:    deltaRepo,
		Notifier:  notifier,
		Outcomes:  notificationRepo,
		Events:    publisher,
		Decoder: barcode.NewDecoder(barcode.Options{
			CarrierPrefix:       cfg.Scanning.CarrierPrefix,
			SerializedPrefix:    cfg.Scanning.SerializedPrefix,
			MinSerializedLength: cfg.Scanning.MinSerializedLength,
			MaxLength:           cfg.Scanning.MaxBarcodeLength,
		}),
	}, log)

	fulfillmentHandler, err := handler.NewFulfillmentHandler(fulfillmentService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create fulfillment handler")
	}

	// Regulator verdicts arrive asynchronously
	resultConsumer, err := consumers.NewNotificationResultConsumer(
		rmq, cfg.Notifier.ResultExchange, cfg.Notifier.ResultQueue, fulfillmentService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create notification result consumer")
	}
	if err := resultConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start notification result consumer")
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID(log))
	r.Use(httputil.AccessLog(log, cfg.Server.SlowRequest))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Accept-Language", httputil.OperatorHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)
	r.Use(httputil.Operator)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	fulfillmentHandler.Routes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers and let an in-flight result finish
	cancel()
	resultConsumer.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/studyfolders/internal/app"
	"github.com/maneesh/studyfolders/internal/config"
	"github.com/maneesh/studyfolders/internal/handlers"
	"github.com/maneesh/studyfolders/internal/logging"
	"github.com/maneesh/studyfolders/internal/metrics"
	"github.com/maneesh/studyfolders/internal/tracing"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logging.Sync()
	log := logging.L()

	log.Info("starting studyfolders service",
		zap.String("service", cfg.ServiceName),
		zap.String("port", cfg.ServicePort),
	)

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.ServiceName, cfg.JaegerEndpoint, cfg.TracingEnabled)
	if err != nil {
		log.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Warn("error shutting down tracer", zap.Error(err))
		}
	}()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.Fatal("failed to initialize service", zap.Error(err))
	}
	defer application.Close()

	// Setup HTTP router
	router := mux.NewRouter()
	router.Use(logging.Middleware, metrics.Middleware)

	router.HandleFunc("/health", handlers.Health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Handle("/storage-locations",
		otelhttp.NewHandler(handlers.LocationsHandler(application.Registry), "GET /storage-locations")).
		Methods(http.MethodGet)
	api.Handle("/storage-locations/{id}/folders",
		otelhttp.NewHandler(handlers.NewBrowseHandler(application.Folders), "GET /storage-locations/{id}/folders")).
		Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         ":" + cfg.ServicePort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.StorageRequestTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

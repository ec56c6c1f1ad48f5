package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devfusion/app/pkg/config"
	"devfusion/app/pkg/di"
	"devfusion/app/pkg/logger"
	"devfusion/app/pkg/observability"
	"devfusion/app/pkg/router"
	"devfusion/app/pkg/secrets"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file found")
	}

	logConfig := logger.DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logConfig.Level = level
	}
	logConfig.JSON = os.Getenv("LOG_FORMAT") != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("starting application", "version", os.Getenv("APP_VERSION"))

	if err := secrets.Init(log); err != nil {
		log.LogError(err, "failed to initialize secrets manager")
		os.Exit(1)
	}

	cfg := config.New()
	if cfg.Store.AnonKey == "" {
		cfg.Store.AnonKey = secrets.GetSecretWithDefault(context.Background(), "store-anon-key", "")
	}
	if cfg.Store.AnonKey == "" {
		log.Error("no store API key configured")
		os.Exit(1)
	}

	shutdownTracing := observability.SetupTracing("devfusion")
	defer shutdownTracing()
	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":2112"
	}
	observability.SetupPrometheusMetrics(metricsAddr)

	container := di.New(cfg, log)
	container.Start(context.Background())
	defer container.Close()

	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r.Engine,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	go func() {
		log.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "server failed to start")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "forced shutdown")
	}
	log.Info("server stopped")
}

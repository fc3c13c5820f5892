package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DjangoSpop/promptemple-sub000/apps/search-api/internal/api"
	"github.com/DjangoSpop/promptemple-sub000/apps/search-api/internal/core"
	"github.com/DjangoSpop/promptemple-sub000/pkg/config"
	"github.com/DjangoSpop/promptemple-sub000/pkg/observability"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	configFile  = flag.String("config", "", "Path to the configuration file (overrides PROMPTEMPLE_CONFIG_FILE)")
	healthCheck = flag.Bool("health-check", false, "Run health check against a running server and exit")
	skipWarmup  = flag.Bool("skip-warmup", false, "Do not warm the cache at startup")
)

func main() {
	flag.Parse()

	// .env is optional outside local development
	_ = godotenv.Load()

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFromFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *healthCheck {
		os.Exit(runHealthCheck(cfg.API.ListenAddress))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := newLogger(cfg.Observability.Logging, "search-api")

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Observability.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	var tracer observability.Tracer = observability.NoopTracer{}
	if cfg.Observability.Tracing.Enabled {
		tracer = observability.NewOTelTracer("search-api")
	}

	var (
		metrics  observability.MetricsClient = observability.NewNoOpMetricsClient()
		registry *prometheus.Registry
	)
	if cfg.Observability.Metrics.Enabled {
		prom := observability.NewPrometheusMetricsClient(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.Subsystem)
		metrics, registry = prom, prom.Registry()
	}

	services, err := core.NewServices(ctx, cfg, core.Options{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
	})
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	server := api.NewServer(services, cfg.API, registry, logger.WithPrefix("api"))

	if cfg.Warmer.Enabled && !*skipWarmup {
		services.Warmer.Start(ctx)
	}
	server.SetReady(true)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server", nil)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := services.Close(); err != nil {
		logger.Warn("Failed to close services", map[string]interface{}{"error": err.Error()})
	}
	if err := metrics.Close(); err != nil {
		logger.Warn("Failed to close metrics client", map[string]interface{}{"error": err.Error()})
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Failed to flush traces", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Server exited", nil)
}

func newLogger(cfg observability.LoggingConfig, prefix string) observability.Logger {
	return observability.NewStandardLogger(prefix).WithLevel(observability.ParseLogLevel(cfg.Level))
}

func runHealthCheck(listenAddress string) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost%s/health", portOf(listenAddress)))
	if err != nil {
		log.Printf("Health check failed: %v", err)
		return 1
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		log.Printf("Health check failed with status: %d", resp.StatusCode)
		return 1
	}
	return 0
}

// portOf returns ":port" from a listen address such as ":8080" or "0.0.0.0:8080"
func portOf(listenAddress string) string {
	for i := len(listenAddress) - 1; i >= 0; i-- {
		if listenAddress[i] == ':' {
			return listenAddress[i:]
		}
	}
	return ":8080"
}

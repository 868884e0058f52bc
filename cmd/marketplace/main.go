// Command marketplace runs the agent execution marketplace service:
// HTTP/SSE/WebSocket API, job orchestration, and the background
// version-sunset sweep.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/agentmkt/marketplace/pkg/api"
	"github.com/agentmkt/marketplace/pkg/config"
	"github.com/agentmkt/marketplace/pkg/externalagent"
	"github.com/agentmkt/marketplace/pkg/fairqueue"
	"github.com/agentmkt/marketplace/pkg/metrics"
	"github.com/agentmkt/marketplace/pkg/orchestrator"
	"github.com/agentmkt/marketplace/pkg/policy"
	"github.com/agentmkt/marketplace/pkg/provenance"
	"github.com/agentmkt/marketplace/pkg/retention"
	"github.com/agentmkt/marketplace/pkg/storage"
	"github.com/agentmkt/marketplace/pkg/streamhub"
	"github.com/agentmkt/marketplace/pkg/versionregistry"
	"github.com/agentmkt/marketplace/pkg/webhook"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	metricsPort := getEnv("METRICS_PORT", "9090")

	log.Printf("Starting marketplace")
	log.Printf("HTTP Port: %s", httpPort)

	ctx := context.Background()

	dbConfig, err := storage.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	db, err := storage.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Client.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("Connected to PostgreSQL database")

	marketplaceConfigPath := getEnv("MARKETPLACE_CONFIG", filepath.Join(*configDir, "marketplace.yaml"))
	appConfig, err := config.Load(marketplaceConfigPath)
	if err != nil {
		log.Fatalf("Failed to load marketplace config: %v", err)
	}
	log.Printf("Loaded marketplace config from %s (%d tenant quota overrides)", marketplaceConfigPath, len(appConfig.TenantQuotas))

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	agents := externalagent.NewRegistry(httpClient, slog.Default())
	agents.SetCircuitObserver(met.ObserveCircuitState)
	proxy := externalagent.NewProxy(agents, httpClient)

	hub := streamhub.New(streamhub.DefaultConfig())

	policyEngine := policy.NewEngine(storage.NewPolicyAuditSink(db.Client, slog.Default()))

	versions := versionregistry.New(versionregistry.DefaultConfig(), slog.Default())
	versions.Start()
	defer versions.Stop()

	var windowCounter fairqueue.WindowCounter
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		windowCounter = storage.NewRedisWindowCounter(redisClient, "marketplace:ratewin:")
		log.Printf("Using Redis-backed rate window at %s", redisAddr)
	} else {
		log.Println("REDIS_ADDR not set, using in-process rate window (single replica only)")
	}

	quotas := make(map[string]fairqueue.TenantQuota, len(appConfig.TenantQuotas))
	for tenantID, q := range appConfig.TenantQuotas {
		quotas[tenantID] = fairqueue.TenantQuota{
			MaxConcurrent: q.MaxConcurrent,
			MaxPending:    q.MaxPending,
			MaxPerWindow:  q.MaxPerWindow,
			Window:        q.Window,
		}
	}
	queue := fairqueue.New(quotas, windowCounter)

	jobStore := storage.NewJobStore(db.Client)
	provenanceStore := storage.NewProvenanceStore(db.Client)
	provLog := provenance.NewLog(provenanceStore, slog.Default())

	retentionSvc := retention.NewService(appConfig.Retention, jobStore, provenanceStore, slog.Default())
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	webhookSvc := webhook.NewService(webhook.DefaultConfig(), httpClient, slog.Default())

	orch := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.Deps{
		Queue:      queue,
		Jobs:       jobStore,
		Hub:        hub,
		Policy:     policyEngine,
		Versions:   versions,
		Agents:     agents,
		Proxy:      proxy,
		Provenance: provLog,
		Webhook:    webhookSvc,
		Logger:     slog.Default(),
	})
	orch.Start(ctx)
	defer orch.Stop()

	go func() {
		statsTicker := time.NewTicker(15 * time.Second)
		defer statsTicker.Stop()
		for range statsTicker.C {
			met.ObserveQueueStats(queue.Stats())
		}
	}()

	auth := api.NewAuthenticator(getEnv("JWT_SIGNING_SECRET", ""))
	server := api.NewServer(api.DefaultConfig(), orch, agents, hub, db, auth)

	metricsServer := &http.Server{
		Addr:    ":" + metricsPort,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		log.Printf("Metrics server listening on :%s", metricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown error: %v", err)
		}
	}()

	log.Printf("HTTP server listening on :%s", httpPort)
	log.Printf("Health check available at: http://localhost:%s/health", httpPort)
	if err := server.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server stopped")
}

/**
 * @description
 * This is the main entry point for the switch-service. It is responsible for
 * initializing all components of the service, including configuration,
 * database connection, the VPA cache, message brokers, repositories, the
 * orchestrator, the background workers (outbox publisher, reconciliation
 * sweep, settlement engine), and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: VPA cache client.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/velopay/switch-service/internal/api"
	"github.com/velopay/switch-service/internal/app"
	"github.com/velopay/switch-service/internal/config"
	"github.com/velopay/switch-service/internal/health"
	"github.com/velopay/switch-service/internal/outbox"
	"github.com/velopay/switch-service/internal/routing"
	"github.com/velopay/switch-service/internal/settlement"
	"github.com/velopay/switch-service/internal/store"
	"github.com/velopay/switch-service/internal/vpa"
	rmrabbit "github.com/velopay/switch-service/pkg/rabbitmq"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting switch-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// The switch carries every transfer in the network; size the pool for
	// sustained concurrent load.
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for the outbox publisher.
	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// The VPA cache degrades to straight database lookups when Redis is
	// missing or unreachable.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; vpa cache disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; vpa cache disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; vpa cache disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Switch components.
	resolver := vpa.NewResolver(repository, redisOrNil(redisClient), time.Duration(cfg.VPACacheTTLSeconds)*time.Second)
	registry := health.NewRegistry(health.Options{
		WindowSize:       cfg.CircuitWindowSize,
		MinSamples:       cfg.CircuitMinSamples,
		FailureThreshold: cfg.CircuitFailureThreshold,
		Cooldown:         time.Duration(cfg.CircuitCooldownSeconds) * time.Second,
	})
	router := routing.NewEngine(routing.Weights{
		SuccessRate: cfg.RoutingSuccessWeight,
		Latency:     cfg.RoutingLatencyWeight,
	})
	adapters := app.NewClientRegistry(repository, cfg.AdapterTimeout())

	var verifier app.SignatureVerifier
	if strings.TrimSpace(cfg.PSPJWKSURL) != "" {
		verifier = api.NewJWSVerifier(cfg.PSPJWKSURL)
	} else {
		log.Println("level=warn component=bootstrap msg=\"psp jwks url missing; request signature verification disabled\" env=PSP_JWKS_URL")
	}

	switchService := app.NewService(repository, resolver, router, registry, adapters, verifier, app.Options{
		AdapterTimeout:         cfg.AdapterTimeout(),
		StatusQueryRetries:     cfg.StatusQueryRetries,
		StatusQueryBackoff:     time.Duration(cfg.StatusQueryBackoffMS) * time.Millisecond,
		ReversalMaxAttempts:    cfg.ReversalMaxAttempts,
		ReversalBackoff:        time.Duration(cfg.ReversalBackoffMS) * time.Millisecond,
		IdempotencyRetention:   time.Duration(cfg.IdempotencyRetentionHours) * time.Hour,
		IdempotencyWaitTimeout: time.Duration(cfg.IdempotencyWaitTimeoutMS) * time.Millisecond,
	})

	// Background workers share one cancelable context.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	outboxPublisher := outbox.NewPublisher(repository, producer, time.Duration(cfg.OutboxPollIntervalMS)*time.Millisecond, cfg.OutboxBatchSize)
	go outboxPublisher.Run(workerCtx)

	go switchService.RunReconciler(workerCtx, time.Duration(cfg.ReconcileIntervalSeconds)*time.Second)

	settlementEngine := settlement.NewEngine(repository, time.Duration(cfg.SettlementWindowMinutes)*time.Minute, time.Duration(cfg.SettlementLeaseSeconds)*time.Second)
	if err := settlementEngine.Start(cfg.SettlementCron, cfg.SettlementEODCron); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"settlement engine start failed\" err=%v", err)
	}
	defer settlementEngine.Stop()

	// VPA provisioning invalidation consumer.
	provisioningConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; vpa invalidation disabled\" err=%v", err)
	} else {
		defer provisioningConsumer.Close()
		if err := app.StartProvisioningConsumer(provisioningConsumer, cfg.ProvisioningEventQueue, resolver, adapters); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"provisioning consumer start failed; vpa invalidation disabled\" err=%v", err)
		}
	}

	// Initialize the API handlers and the HTTP server. The per-PSP rate
	// limiter shares the Redis client with the VPA cache; without Redis
	// limiting is disabled rather than falling back to per-instance counters.
	var rateLimiter api.TransferRateLimiter
	if redisClient != nil {
		rateLimiter = app.NewRedisTransferRateLimiter(redisClient, "switch:rate_limit")
	} else {
		log.Println("level=warn component=bootstrap msg=\"redis unavailable; psp rate limiting disabled\"")
	}
	handlers := api.NewSwitchHandlers(switchService, registry, router, repository, adapters, settlementEngine)
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: api.SwitchRoutes(handlers, cfg.PSPJWKSURL, cfg.InternalAPIKey, rateLimiter, cfg.TransferRateLimit, time.Duration(cfg.TransferRateLimitWindowSeconds)*time.Second),
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// redisOrNil keeps the resolver's nil-client degradation explicit: a typed
// nil *redis.Client must not become a non-nil interface.
func redisOrNil(client *redis.Client) redis.UniversalClient {
	if client == nil {
		return nil
	}
	return client
}

/**
 * @description
 * This is the main entry point for the vault-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the two
 * vault ledgers, and the HTTP server. It wires everything together and starts
 * the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/vault, internal/config, internal/store: Internal packages for the service.
 * - pkg/feedclient, pkg/swapclient, pkg/custodyclient: Clients for the external rails.
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

	"github.com/kipubank/vault-service/internal/api"
	"github.com/kipubank/vault-service/internal/config"
	"github.com/kipubank/vault-service/internal/store"
	"github.com/kipubank/vault-service/internal/vault"
	"github.com/kipubank/vault-service/pkg/custodyclient"
	"github.com/kipubank/vault-service/pkg/feedclient"
	"github.com/kipubank/vault-service/pkg/rabbitmq"
	"github.com/kipubank/vault-service/pkg/swapclient"
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
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}
	if strings.TrimSpace(cfg.OwnerAccountID) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"owner account must be configured\" env=OWNER_ACCOUNT_ID")
	}

	log.Printf("level=info component=bootstrap msg=\"starting vault-service\" port=%s", cfg.ServerPort)

	// Establish the storage layer. A missing DATABASE_URL degrades to the
	// in-memory repository so the service stays usable in development.
	pricedRepo, swapRepo, cleanup := buildRepositories(cfg)
	defer cleanup()

	// Initialize the RabbitMQ producer to publish events.
	// This service only needs to publish, so we use a producer.
	var producer vault.EventPublisher
	rabbitProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the clients for the external rails.
	feedClient := feedclient.NewClient(cfg.FeedAPIBaseURL, cfg.FeedAPIKey)
	routerClient := swapclient.NewClient(cfg.RouterAPIBaseURL, cfg.RouterAPIKey, cfg.AccountingAsset)
	custodyClient := custodyclient.NewClient(cfg.CustodyAPIBaseURL, cfg.CustodyAPIKey, cfg.CustodyAccountID)

	pricedVault, err := vault.NewPricedVault(vault.Config{
		Name:               "priced",
		Owner:              cfg.OwnerAccountID,
		Capacity:           cfg.PricedBankCap,
		WithdrawCeiling:    cfg.PricedWithdrawCeiling,
		AccountingAsset:    cfg.AccountingAsset,
		AccountingDecimals: cfg.AccountingDecimals,
		NativeAsset:        cfg.NativeAsset,
		NativeDecimals:     cfg.NativeDecimals,
		NativeFeedID:       cfg.NativeFeedID,
	}, pricedRepo, feedClient, custodyClient, producer)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"priced vault init failed\" err=%v", err)
	}

	swapVault, err := vault.NewSwapVault(vault.Config{
		Name:               "swap",
		Owner:              cfg.OwnerAccountID,
		Capacity:           cfg.SwapBankCap,
		WithdrawCeiling:    cfg.SwapWithdrawCeiling,
		AccountingAsset:    cfg.AccountingAsset,
		AccountingDecimals: cfg.AccountingDecimals,
		NativeAsset:        cfg.NativeAsset,
		NativeDecimals:     cfg.NativeDecimals,
		RouterSpender:      cfg.RouterSpenderID,
	}, swapRepo, routerClient, custodyClient, producer)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"swap vault init failed\" err=%v", err)
	}

	// Deposit rate limiting is optional and backed by Redis.
	if cfg.DepositRateLimitPerMinute > 0 {
		if limiter := buildRateLimiter(cfg); limiter != nil {
			pricedVault.SetDepositRateLimiter(limiter, cfg.DepositRateLimitPerMinute)
			swapVault.SetDepositRateLimiter(limiter, cfg.DepositRateLimitPerMinute)
		}
	}

	// Initialize the API handlers and routes.
	router := api.VaultRoutes(
		api.NewPricedVaultHandlers(pricedVault),
		api.NewSwapVaultHandlers(swapVault),
		cfg.JWTSecret,
		cfg.InternalAPIKey,
	)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// buildRepositories connects to Postgres when configured and runs the schema
// migration, falling back to in-memory storage otherwise. Each vault gets its
// own repository scope so their aggregates never mix.
func buildRepositories(cfg config.Config) (pricedRepo, swapRepo store.Repository, cleanup func()) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"database url missing; using in-memory storage\" env=DATABASE_URL")
		return store.NewMemoryRepository(), store.NewMemoryRepository(), func() {}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

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
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	priced := store.NewPostgresRepository(dbpool, "priced")
	swap := store.NewPostgresRepository(dbpool, "swap")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelMigrate()
	if err := priced.Migrate(migrateCtx); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
	}
	if err := swap.Migrate(migrateCtx); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"schema migration failed\" err=%v", err)
	}

	return priced, swap, dbpool.Close
}

// buildRateLimiter connects to Redis for deposit throttling. Any failure
// disables rate limiting rather than blocking boot.
func buildRateLimiter(cfg config.Config) vault.RateLimiter {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; deposit rate limiting disabled\" env=REDIS_URL")
		return nil
	}

	redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
	if parseErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; deposit rate limiting disabled\" err=%v", parseErr)
		return nil
	}

	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; deposit rate limiting disabled\" err=%v", pingErr)
		redisClient.Close()
		return nil
	}

	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return vault.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
}

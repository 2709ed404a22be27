package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"sigillum/internal/platform/config"
	"sigillum/internal/platform/httpserver"
	platformkafka "sigillum/internal/platform/kafka"
	"sigillum/internal/platform/logger"
	"sigillum/internal/platform/middleware"
	"sigillum/internal/platform/postgres"
	platformredis "sigillum/internal/platform/redis"
	"sigillum/internal/proof/chain"
	"sigillum/internal/proof/chain/jsonrpc"
	"sigillum/internal/proof/flight"
	proofmetrics "sigillum/internal/proof/metrics"
	"sigillum/internal/proof/ports"
	proofservice "sigillum/internal/proof/service"
	proofstorage "sigillum/internal/proof/storage"
	"sigillum/internal/proof/storage/gateway"
	proofstore "sigillum/internal/proof/store"
	httptransport "sigillum/internal/transport/http"
	audit "sigillum/pkg/platform/audit"
	auditkafka "sigillum/pkg/platform/audit/kafka"
	auditpublisher "sigillum/pkg/platform/audit/publisher"
	auditmemory "sigillum/pkg/platform/audit/store/memory"
	auditpostgres "sigillum/pkg/platform/audit/store/postgres"
	auditworker "sigillum/pkg/platform/audit/worker"
)

const outboxRelayInterval = 5 * time.Second

// main wires the pipeline dependencies and keeps the server lifecycle small.
// Business logic lives in the internal/proof packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	// Record store: PostgreSQL when configured, in-memory otherwise.
	var records ports.RecordStore
	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		log.Error("failed to open postgres", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
		records = proofstore.NewPostgresStore(db)
	} else {
		log.Warn("postgres not configured, using in-memory record store")
		records = proofstore.NewInMemoryStore()
	}

	// Audit trail: transactional outbox next to the records, relayed to
	// Kafka when a broker is configured.
	var (
		auditStore audit.Store
		outbox     auditworker.OutboxSource
	)
	if cfg.Postgres.DSN != "" {
		auditDB, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Error("failed to open audit database", "error", err)
			os.Exit(1)
		}
		defer auditDB.Close()
		pgStore := auditpostgres.New(auditDB)
		auditStore = pgStore
		outbox = pgStore
	} else {
		auditStore = auditmemory.NewInMemoryStore()
	}
	publisher := auditpublisher.NewPublisher(auditStore,
		auditpublisher.WithAsyncBuffer(256),
		auditpublisher.WithLogger(log),
	)
	defer publisher.Close()

	kafkaClient, err := platformkafka.New(cfg.Kafka)
	if err != nil {
		log.Error("failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	if kafkaClient != nil {
		defer kafkaClient.Close()
	}

	// Flight lock and state cache: Redis when configured.
	var flights ports.FlightStore
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		flights = flight.NewRedisStore(redisClient.Client)
	} else {
		log.Warn("redis not configured, flight locks are process-local")
		flights = flight.NewInMemoryStore()
	}

	metrics := proofmetrics.New()

	uploader := proofstorage.NewUploader(
		gateway.New(cfg.Storage.GatewayURL),
		proofstorage.WithLogger(log),
		proofstorage.WithRetryPolicy(cfg.Storage.MaxAttempts, cfg.Storage.RetryBaseWait),
	)

	registrar := chain.NewRegistrar(
		jsonrpc.New(cfg.Ledger.RPCURL),
		cfg.Ledger,
		chain.WithLogger(log),
	)

	orchestrator := proofservice.NewOrchestrator(
		records,
		uploader,
		registrar,
		flights,
		proofservice.WithLogger(log),
		proofservice.WithMetrics(metrics),
		proofservice.WithAuditPublisher(publisher),
	)

	checks := map[string]httptransport.HealthChecker{}
	if redisClient != nil {
		checks["redis"] = redisClient
	}
	if db != nil {
		checks["postgres"] = healthFunc(db.PingContext)
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:       log,
		Proofs:       orchestrator,
		JWTValidator: middleware.NewHMACValidator(cfg.JWTSigningKey),
		Checks:       checks,
	})
	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting sigillum", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if outbox != nil && kafkaClient != nil {
		relay := auditworker.NewRelay(
			outbox,
			auditkafka.NewPublisher(kafkaClient.Client, cfg.Kafka.AuditTopic),
			outboxRelayInterval,
			auditworker.WithLogger(log),
		)
		group.Go(func() error {
			err := relay.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// healthFunc adapts a ping function to the router's health checker.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

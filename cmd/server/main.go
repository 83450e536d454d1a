// Command server runs the nexus-compliance backend: the per-tenant
// configuration store with its audit trail, and the assessment engine.
//
// Postgres, Redis, and Kafka are all optional: without a DSN the server runs
// on in-memory stores (development and tests), without a Redis address gate
// checks hit the store directly, and without Kafka seeds audit events stay in
// the outbox table.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	assessmenthandler "github.com/adverant/nexus-compliance/internal/assessment/handler"
	assessmentmetrics "github.com/adverant/nexus-compliance/internal/assessment/metrics"
	"github.com/adverant/nexus-compliance/internal/assessment/scoring"
	assessmentservice "github.com/adverant/nexus-compliance/internal/assessment/service"
	assessmentstore "github.com/adverant/nexus-compliance/internal/assessment/store"
	"github.com/adverant/nexus-compliance/internal/catalog"
	"github.com/adverant/nexus-compliance/internal/compliance/cache"
	compliancehandler "github.com/adverant/nexus-compliance/internal/compliance/handler"
	compliancemetrics "github.com/adverant/nexus-compliance/internal/compliance/metrics"
	complianceservice "github.com/adverant/nexus-compliance/internal/compliance/service"
	compliancestore "github.com/adverant/nexus-compliance/internal/compliance/store"
	"github.com/adverant/nexus-compliance/internal/evaluator"
	"github.com/adverant/nexus-compliance/internal/platform/config"
	"github.com/adverant/nexus-compliance/internal/platform/httpserver"
	"github.com/adverant/nexus-compliance/internal/platform/logger"
	"github.com/adverant/nexus-compliance/internal/platform/outbox"
	"github.com/adverant/nexus-compliance/internal/platform/postgres"
	platformredis "github.com/adverant/nexus-compliance/internal/platform/redis"
	"github.com/adverant/nexus-compliance/pkg/platform/middleware/auth"
	"github.com/adverant/nexus-compliance/pkg/platform/middleware/metadata"
	"github.com/adverant/nexus-compliance/pkg/platform/middleware/requestid"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		configStore compliancestore.Store
		configTx    compliancestore.TxRunner
		assessStore assessmentstore.Store
		assessTx    assessmentstore.TxRunner
		outboxStore outbox.Store
	)
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		configStore = compliancestore.NewPostgres(db)
		configTx = compliancestore.NewPostgresTxRunner(db)
		assessStore = assessmentstore.NewPostgres(db)
		assessTx = assessmentstore.NewPostgresTxRunner(db)
		outboxStore = outbox.NewPostgresStore(db)
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		configStore = compliancestore.NewInMemory()
		configTx = compliancestore.NewInMemoryTxRunner()
		assessStore = assessmentstore.NewInMemory()
		assessTx = assessmentstore.NewInMemoryTxRunner()
		outboxStore = outbox.NewInMemoryStore()
	}

	redisClient, err := platformredis.New(cfg.RedisAddr)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	complianceSvc := complianceservice.New(configStore, configTx,
		complianceservice.WithCache(cache.New(redisClient, cfg.ConfigCacheTTL)),
		complianceservice.WithOutbox(outboxStore),
		complianceservice.WithLogger(log),
		complianceservice.WithMetrics(compliancemetrics.New()),
	)

	assessmentSvc := assessmentservice.New(assessStore, assessTx, catalog.NewStatic(), evaluator.NewUnassisted(),
		assessmentservice.WithGate(complianceSvc),
		assessmentservice.WithOutbox(outboxStore),
		assessmentservice.WithLogger(log),
		assessmentservice.WithMetrics(assessmentmetrics.New()),
		assessmentservice.WithRiskPolicy(scoring.RiskPolicy{
			LowMin:    cfg.RiskLowMin,
			MediumMin: cfg.RiskMediumMin,
			HighMin:   cfg.RiskHighMin,
		}),
		assessmentservice.WithTimeouts(cfg.ControlTimeout, cfg.RunTimeout),
		assessmentservice.WithMaxConcurrentEvals(cfg.MaxConcurrentEvals),
	)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(requestid.Propagate)
	router.Use(chimiddleware.Recoverer)
	router.Use(metadata.ClientMetadata)
	router.Use(auth.Middleware([]byte(cfg.JWTSigningKey)))

	compliancehandler.New(complianceSvc, log).Register(router)
	assessmenthandler.New(assessmentSvc, log).Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := httpserver.New(cfg.Addr, router)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if len(cfg.KafkaSeeds) > 0 {
		publisher, err := outbox.NewKafkaPublisher(ctx, cfg.KafkaSeeds, cfg.AuditTopic)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		worker := outbox.NewWorker(outboxStore, publisher, log)
		g.Go(func() error {
			if err := worker.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			// Final flush so committed events are not stranded on shutdown.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := worker.Drain(flushCtx); err != nil {
				log.Error("final outbox drain failed", "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

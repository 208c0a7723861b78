package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kycgate/internal/dedup"
	dedupmem "kycgate/internal/dedup/store/memory"
	deduppg "kycgate/internal/dedup/store/postgres"
	"kycgate/internal/platform/config"
	"kycgate/internal/platform/httpserver"
	"kycgate/internal/platform/logger"
	platformredis "kycgate/internal/platform/redis"
	"kycgate/internal/ratelimit"
	"kycgate/internal/usage"
	usagemem "kycgate/internal/usage/store/memory"
	usageredis "kycgate/internal/usage/store/redisstore"
	"kycgate/internal/verification"
	"kycgate/internal/verification/handler"
	"kycgate/internal/verifier"
	"kycgate/pkg/platform/audit/publisher"
	auditkafka "kycgate/pkg/platform/audit/publishers/kafka"
	auditmem "kycgate/pkg/platform/audit/store/memory"
)

// main wires the verification core: rate limiter, duplicate checker, usage
// tracker, and the job queue behind an HTTP surface. Postgres, Redis, and
// Kafka are optional; absent any of them the process runs self-contained on
// in-memory stores.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	// Redis: dedup cache and shared usage counters.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.Info("redis connected")
	}

	// Postgres: durable canonical records.
	var db *sql.DB
	if cfg.PostgresURL != "" {
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Error("postgres ping failed", "error", err)
			os.Exit(1)
		}
		log.Info("postgres connected")
	}

	// Audit trail: in-memory store, optionally fanned out to Kafka.
	auditOpts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithAsyncBuffer(256),
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := auditkafka.NewSink(cfg.KafkaBrokers)
		if err != nil {
			log.Error("kafka audit sink failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		auditOpts = append(auditOpts, publisher.WithSink(sink))
		log.Info("kafka audit sink connected", "topic", auditkafka.DefaultTopic)
	}
	auditor := publisher.NewPublisher(auditmem.NewInMemoryStore(), auditOpts...)
	defer auditor.Close()

	limiter, err := ratelimit.New(
		cfg.RateLimit.Capacity,
		cfg.RateLimit.Window,
		cfg.RateLimit.MaxWaitQueue,
		ratelimit.WithLogger(log),
		ratelimit.WithAuditPublisher(auditor),
		ratelimit.WithRefillTick(cfg.RateLimit.RefillTick),
	)
	if err != nil {
		log.Error("rate limiter init failed", "error", err)
		os.Exit(1)
	}
	defer limiter.Destroy()

	var canonicalStore dedup.CanonicalStore
	if db != nil {
		pgStore := deduppg.New(db)
		if err := pgStore.Migrate(context.Background()); err != nil {
			log.Error("canonical store migration failed", "error", err)
			os.Exit(1)
		}
		canonicalStore = pgStore
	} else {
		canonicalStore = dedupmem.New()
	}
	checkerOpts := []dedup.Option{dedup.WithLogger(log)}
	if redisClient != nil {
		checkerOpts = append(checkerOpts, dedup.WithCache(redisClient, 5*time.Minute))
	}
	checker, err := dedup.NewChecker(canonicalStore, checkerOpts...)
	if err != nil {
		log.Error("duplicate checker init failed", "error", err)
		os.Exit(1)
	}

	var usageStore usage.Store
	if redisClient != nil {
		usageStore = usageredis.New(redisClient)
	} else {
		usageStore = usagemem.New()
	}
	tracker, err := usage.NewTracker(usageStore, usage.WithLogger(log))
	if err != nil {
		log.Error("usage tracker init failed", "error", err)
		os.Exit(1)
	}

	queue, err := verification.New(verification.Config{
		MaxConcurrent:   cfg.Queue.MaxConcurrent,
		MaxQueueSize:    cfg.Queue.MaxQueueSize,
		MaxAttempts:     cfg.Queue.MaxAttempts,
		RetryDelay:      cfg.Queue.RetryDelay,
		Retention:       cfg.Queue.Retention,
		DispatchTick:    cfg.Queue.DispatchTick,
		NotifyThreshold: cfg.Queue.NotifyThreshold,
		AvgItemDuration: cfg.Queue.AvgItemDuration,
	}, verification.Deps{
		Limiter:  limiter,
		Verifier: verifier.NewHTTPVerifier(cfg.ProviderName, cfg.ProviderURL, cfg.ProviderAPIKey, cfg.ProviderTimeout),
		Provider: cfg.ProviderName,
		Checker:  checker,
		Tracker:  tracker,
	},
		verification.WithLogger(log),
		verification.WithAuditPublisher(auditor),
	)
	if err != nil {
		log.Error("queue init failed", "error", err)
		os.Exit(1)
	}

	h := handler.New(queue, limiter, tracker, handler.UsageBudget{
		MonthlyLimit:   cfg.Usage.MonthlyLimit,
		AlertThreshold: cfg.Usage.AlertThreshold,
	}, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/v1", h.Register)

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting kycgate", "addr", cfg.Addr, "provider", cfg.ProviderName)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if err := queue.Stop(ctx); err != nil {
		log.Warn("queue stop timed out", "error", err)
	}
}

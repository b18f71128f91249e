package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"verigate/internal/audit"
	auditkafka "verigate/internal/audit/kafka"
	"verigate/internal/jwttoken"
	"verigate/internal/platform/config"
	"verigate/internal/platform/httpserver"
	"verigate/internal/platform/logger"
	"verigate/internal/platform/middleware"
	"verigate/internal/platform/postgres"
	platformredis "verigate/internal/platform/redis"
	"verigate/internal/registry"
	registrymetrics "verigate/internal/registry/metrics"
	"verigate/internal/review"
	reviewhandler "verigate/internal/review/handler"
	verificationhandler "verigate/internal/verification/handler"
	verificationmetrics "verigate/internal/verification/metrics"
	"verigate/internal/verification/models"
	"verigate/internal/verification/providers"
	"verigate/internal/verification/providers/docai"
	"verigate/internal/verification/providers/heuristic"
	"verigate/internal/verification/providers/premium"
	"verigate/internal/verification/service"
	"verigate/internal/verification/store"
	"verigate/internal/webhook"
	webhookmetrics "verigate/internal/webhook/metrics"
)

// main wires dependencies and owns the server lifecycle. Business logic lives
// in the internal services; nothing here makes domain decisions.
func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.RunMigrations(cfg.PostgresURL); err != nil {
		return err
	}

	rdb, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	auditPublisher, closePublisher, err := buildAuditPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	attempts := store.NewPostgresAttemptStore(db)
	profiles := store.NewPostgresProfileStore(db)
	runner := store.NewPostgresTxRunner(db)

	registryOpts := []registry.Option{
		registry.WithLogger(log),
		registry.WithMetrics(registrymetrics.New(reg)),
		registry.WithAuditPublisher(auditPublisher),
	}
	if rdb != nil {
		registryOpts = append(registryOpts, registry.WithGuardCache(
			registry.NewRedisGuardCache(rdb, cfg.RegistryCacheTTL),
		))
	}
	registrySvc := registry.New(registry.NewPostgresStore(db), registryOpts...)

	tierProviders := map[models.ProviderTier]providers.Provider{
		models.TierHeuristic:        heuristic.New(),
		models.TierDocumentAI:       docai.New(cfg.DocAIEndpoint, cfg.ProviderTimeout),
		models.TierPremiumBiometric: premium.New(cfg.PremiumEndpoint, cfg.ProviderTimeout),
	}

	verificationMetrics := verificationmetrics.New(reg)
	verificationSvc := service.New(attempts, profiles, registrySvc, runner, tierProviders,
		service.WithLogger(log),
		service.WithMetrics(verificationMetrics),
		service.WithAuditPublisher(auditPublisher),
	)
	reviewSvc := review.New(attempts, profiles, registrySvc, runner,
		review.WithLogger(log),
		review.WithMetrics(verificationMetrics),
		review.WithAuditPublisher(auditPublisher),
	)

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "verigate", "verigate-api")

	router := chi.NewRouter()
	router.Use(middleware.RequestMetadata)

	router.Get("/healthz", healthHandler(db, rdb))
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// The provider callback authenticates with a body signature, not a
	// bearer token.
	webhook.New(verificationSvc, cfg.WebhookSecret, log,
		webhook.WithMetrics(webhookmetrics.New(reg)),
		webhook.WithAuditPublisher(auditPublisher),
	).Register(router)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(jwtValidator{jwtService}, log))
		verificationhandler.New(verificationSvc, log).Register(r)

		r.Group(func(staff chi.Router) {
			staff.Use(middleware.RequireRole(jwttoken.RoleStaff, log))
			reviewhandler.New(reviewSvc, log).Register(staff)
		})
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting verigate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildAuditPublisher prefers Kafka; without brokers it falls back to the
// in-memory sink so services always have somewhere to emit.
func buildAuditPublisher(cfg config.Config, log *slog.Logger) (audit.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := auditkafka.New(cfg.KafkaBrokers, cfg.KafkaAuditTopic, log)
		if err != nil {
			return nil, nil, err
		}
		return publisher, publisher.Close, nil
	}
	log.Warn("no kafka brokers configured, audit events stay in memory")
	return audit.NewStorePublisher(audit.NewInMemoryStore()), func() {}, nil
}

// jwtValidator adapts the token service to the middleware's claim shape.
type jwtValidator struct {
	service *jwttoken.JWTService
}

func (v jwtValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	claims, err := v.service.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	return &middleware.JWTClaims{UserID: claims.UserID, Role: claims.Role}, nil
}

func healthHandler(db interface{ Ping() error }, rdb *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Health(r.Context()); err != nil {
				http.Error(w, `{"status":"degraded"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portal/internal/flow/catalog"
	flowhandler "portal/internal/flow/handler"
	flowmetrics "portal/internal/flow/metrics"
	"portal/internal/flow/service"
	"portal/internal/flow/store"
	"portal/internal/platform/config"
	"portal/internal/platform/httpserver"
	"portal/internal/platform/logger"
	platformmetrics "portal/internal/platform/metrics"
	portalredis "portal/internal/platform/redis"
	audit "portal/pkg/platform/audit"
	"portal/pkg/platform/audit/publisher"
	kafkasink "portal/pkg/platform/audit/sink/kafka"
	auditmemory "portal/pkg/platform/audit/store/memory"
	auditpostgres "portal/pkg/platform/audit/store/postgres"
	"portal/pkg/platform/middleware/admin"
	"portal/pkg/platform/middleware/metadata"
	"portal/pkg/platform/middleware/requesttime"
)

// main wires dependencies, exposes the HTTP router, and keeps the server
// lifecycle small. Business logic lives in internal/flow.
func main() {
	_ = godotenv.Load()
	log := logger.New()

	if err := run(log); err != nil {
		log.Error("portal stopped", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Default()
	if err != nil {
		return fmt.Errorf("load flow catalog: %w", err)
	}

	flowStore, closeStore, err := openFlowStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	auditPub, closeAudit, err := openAudit(ctx, cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	reg := prometheus.DefaultRegisterer
	svc, err := service.New(flowStore, cat,
		service.WithLogger(log),
		service.WithMetrics(flowmetrics.New(reg)),
		service.WithAuditPublisher(auditPub),
	)
	if err != nil {
		return err
	}

	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN not set, review console disabled")
	}
	h := flowhandler.New(svc, log, flowhandler.WithAdminGuard(admin.RequireAdminToken(cfg.AdminToken, log)))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(platformmetrics.NewHTTP(reg).Middleware)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h.Register(r)

	srv := httpserver.New(cfg.Addr, r)
	errc := make(chan error, 1)
	go func() {
		log.Info("starting portal", "addr", cfg.Addr, "flow_store", string(cfg.FlowStore), "flows", len(cat.All()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func openFlowStore(ctx context.Context, cfg config.Server, log *slog.Logger) (service.Store, func(), error) {
	switch cfg.FlowStore {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open flow database: %w", err)
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("flow store ready", "backend", "postgres")
		return pg, pool.Close, nil
	case config.StoreRedis:
		client, err := portalredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.Info("flow store ready", "backend", "redis")
		return store.NewRedis(client), func() { _ = client.Close() }, nil
	default:
		log.Warn("flow documents kept in memory and lost on restart")
		return store.NewInMemoryStore(), func() {}, nil
	}
}

func openAudit(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (*publisher.Publisher, func(), error) {
	var (
		auditStore audit.Store = auditmemory.NewInMemoryStore()
		closers    []func()
		opts       = []publisher.Option{publisher.WithLogger(log)}
	)

	if cfg.DatabaseURL != "" {
		db, err := auditpostgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		pgStore := auditpostgres.New(db)
		if err := pgStore.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		auditStore = pgStore
		closers = append(closers, func() { _ = db.Close() })
	}

	if len(cfg.KafkaBrokers) > 0 {
		sink, err := kafkasink.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, nil, fmt.Errorf("open audit sink: %w", err)
		}
		opts = append(opts, publisher.WithSink(sink))
		closers = append(closers, sink.Close)
	}

	if cfg.AsyncBuffer > 0 {
		opts = append(opts, publisher.WithAsyncBuffer(cfg.AsyncBuffer))
	}
	pub := publisher.NewPublisher(auditStore, opts...)

	// The publisher drains before its store and sink close.
	return pub, func() {
		pub.Close()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-ledger/internal/audit/http"
	"github.com/odyssey-erp/odyssey-ledger/internal/budget"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/voucher"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, AppName: "odyssey-ledger"})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}

	var sink audit.Sink = audit.NewStore(pool)
	if cfg.AuditMode == app.AuditModeQueue {
		client := jobs.NewClient(redisOpts)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		sink = jobs.NewAuditQueue(client)
	}
	dispatcher := audit.NewDispatcher(sink, logger.With(slog.String("component", "audit")), metrics, audit.DispatcherConfig{
		Buffer:  cfg.AuditBuffer,
		Workers: cfg.AuditWorkers,
	})

	periodRepo := periods.NewRepository(pool, cfg.PGTxRetries)
	periodGuard := periods.NewGuard(periodRepo)
	periodService := periods.NewService(periodRepo, dispatcher)

	tolerance, err := cfg.Tolerance()
	if err != nil {
		return err
	}
	voucherRepo := voucher.NewRepository(pool, cfg.PGTxRetries)
	voucherService := voucher.NewService(voucherRepo, periodGuard, budget.NewGate(), dispatcher, logger.With(slog.String("component", "voucher")))
	voucherService.WithTolerance(tolerance)
	voucherService.WithObserver(metrics)
	idempotency := cache.NewTTLStore(redisClient, "idem:vouchers", cfg.IdempotencyTTL)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		VoucherHandler: voucher.NewHandler(voucherService, idempotency, logger),
		PeriodHandler:  periods.NewHandler(logger, periodService),
		AuditHandler:   audithttp.NewHandler(logger, audit.NewService(audit.NewStore(pool))),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("audit_mode", cfg.AuditMode))
	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	return serve(ctx, server, dispatcher, logger)
}

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type auditRunner interface {
	Run(ctx context.Context) error
}

const shutdownTimeout = 10 * time.Second

// serve runs the HTTP server and the audit dispatcher until ctx is done. The
// server drains in-flight requests before the dispatcher stops accepting
// entries, so mutations committed during shutdown are still audited.
func serve(ctx context.Context, server httpServer, dispatcher auditRunner, logger *slog.Logger) error {
	dispatchCtx, stopDispatcher := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatcher()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopDispatcher()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
// Package main запускает HTTP-сервер маркетплейса DigiBite.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/digibite-marketplace/internal/config"
	"github.com/mmeshcher/digibite-marketplace/internal/gateway"
	"github.com/mmeshcher/digibite-marketplace/internal/handler"
	"github.com/mmeshcher/digibite-marketplace/internal/metrics"
	"github.com/mmeshcher/digibite-marketplace/internal/middleware"
	"github.com/mmeshcher/digibite-marketplace/internal/notify"
	"github.com/mmeshcher/digibite-marketplace/internal/repository"
	"github.com/mmeshcher/digibite-marketplace/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	if err := run(cfg, logger); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func run(cfg *config.Config, logger *zap.Logger) (err error) {
	sugar := logger.Sugar()

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("database initialization: %w", err)
	}
	defer repo.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := notify.NewHub(logger)

	params := service.Params{
		Repo:              repo,
		Catalog:           repo,
		Notifier:          hub,
		Metrics:           m,
		Logger:            logger,
		ServiceFee:        cfg.ServiceFee,
		MinWithdrawal:     cfg.MinWithdrawal,
		GatewayTimeout:    cfg.GatewayTimeout,
		SessionTTL:        cfg.SessionTTL,
		ReconcileInterval: cfg.ReconcileInterval,
		ReconcileAfter:    cfg.ReconcileAfter,
	}

	var relay *notify.Relay
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer func() {
			err = multierr.Append(err, rdb.Close())
		}()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}

		params.Carts = repository.NewRedisCartStore(rdb)
		params.Notifier = notify.NewRedisPublisher(rdb, hub, logger)
		relay = notify.NewRelay(rdb, hub, logger)
	} else {
		sugar.Warn("REDIS_URL is not set: carts are kept in memory and events are not shared between instances")
	}

	if cfg.MidtransServerKey != "" {
		snapURL, apiURL := cfg.GatewayURLs()
		params.Gateway = gateway.NewClient(snapURL, apiURL, cfg.MidtransServerKey, cfg.FrontendURL, cfg.GatewayTimeout)
	} else {
		sugar.Warn("MIDTRANS_SERVER_KEY is not set: gateway payments and webhooks are disabled")
	}

	svc := service.NewService(params)

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, handler.Options{
		ServerKey:        cfg.MidtransServerKey,
		StrictSignatures: cfg.StrictSignatures(),
		Events:           hub,
		Metrics:          m,
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Сверка зависших платежей со шлюзом
	g.Go(func() error {
		return svc.RunPaymentReconciliation(ctx)
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(ctx)
		})
	}

	g.Go(func() error {
		sugar.Infow("starting digibite server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

// Package main запускает HTTP-сервер сервиса оплаты заказов витрины.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront-payments/internal/catalog"
	"github.com/mmeshcher/storefront-payments/internal/config"
	"github.com/mmeshcher/storefront-payments/internal/events"
	"github.com/mmeshcher/storefront-payments/internal/handler"
	"github.com/mmeshcher/storefront-payments/internal/portone"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/service"
)

type eventPublisher interface {
	service.Publisher
	Close()
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		sugar.Fatalw("catalog loading error", "error", err.Error(), "path", cfg.CatalogPath)
	}
	sugar.Infow("catalog loaded", "entries", cat.Len())

	gateway := portone.NewClient(cfg.GatewayAddress, cfg.GatewayStoreID, cfg.GatewayAPISecret, cfg.GatewayTimeout, logger)
	if !gateway.Configured() {
		sugar.Warn("payment gateway credentials are not set, payment verification is disabled")
	}
	if cfg.WebhookSecret == "" {
		sugar.Warn("webhook secret is not set, gateway notifications will be rejected")
	}

	var publisher eventPublisher = events.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			sugar.Fatalw("kafka initialization error", "error", err.Error())
		}
		publisher = kp
	}
	defer publisher.Close()

	svc := service.NewService(repo, cat, gateway, publisher, logger, service.Options{
		WebhookSecret:  cfg.WebhookSecret,
		GatewayTimeout: cfg.GatewayTimeout,
	})
	defer svc.Close()

	h := handler.NewHandler(svc, logger)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Закрытие зависших заказов в PENDING, если задан PENDING_ORDER_TTL
	g.Go(func() error {
		if cfg.PendingOrderTTL > 0 {
			sugar.Infow("pending order sweep enabled", "ttl", cfg.PendingOrderTTL, "interval", cfg.PendingSweepPeriod)
		}
		svc.StartPendingSweep(ctx, cfg.PendingOrderTTL, cfg.PendingSweepPeriod)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting storefront payments server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

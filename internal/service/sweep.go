package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/portone"
)

const sweepBatchSize = 100

// StartPendingSweep периодически закрывает заказы, застрявшие в PENDING дольше ttl,
// сверяя их со шлюзом. При ttl <= 0 сразу возвращает управление.
// Блокируется до отмены контекста.
func (s *Service) StartPendingSweep(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepStalePending(ctx, ttl); err != nil && ctx.Err() == nil {
				s.logger.Error("pending sweep error", zap.Error(err))
			}
		}
	}
}

// SweepStalePending обрабатывает одну партию заказов в PENDING старше ttl
// и возвращает число заказов, сменивших статус.
func (s *Service) SweepStalePending(ctx context.Context, ttl time.Duration) (int, error) {
	orders, err := s.ledger.GetStalePendingOrders(ctx, s.now().Add(-ttl), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	closed := 0
	for i := range orders {
		o := &orders[i]

		ref := o.PaymentRef
		if ref == "" {
			ref = o.ID
		}

		p, err := s.queryGateway(ctx, ref)
		switch {
		case errors.Is(err, portone.ErrPaymentNotFound):
			_, applied, err := s.transition(ctx, o, model.Transition{To: model.OrderStatusCancelled}, SourceSweep)
			if err != nil {
				return closed, err
			}
			if applied {
				closed++
			}
			continue
		case errors.Is(err, portone.ErrNotConfigured):
			return closed, err
		case err != nil:
			s.logger.Info("sweep gateway query failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}

		switch {
		case p.Status == model.PaymentStatusPaid:
			updated, err := s.settlePaid(ctx, o, p, SourceSweep, model.OrderStatusCancelled)
			if err != nil && !errors.Is(err, ErrAmountMismatch) && !errors.Is(err, ErrInvalidTransition) &&
				!errors.Is(err, ErrPaymentConflict) {
				return closed, err
			}
			if updated != nil && updated.Status != model.OrderStatusPending {
				closed++
			}
		case p.Status.IsRejected():
			_, applied, err := s.transition(ctx, o, model.Transition{
				To:            model.OrderStatusFailed,
				PaymentRef:    p.PaymentRef,
				PaymentMethod: p.Method,
			}, SourceSweep)
			if err != nil && !errors.Is(err, ErrPaymentConflict) {
				return closed, err
			}
			if applied {
				closed++
			}
		}
	}

	return closed, nil
}

func (s *Service) queryGateway(ctx context.Context, ref string) (*model.Payment, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	return s.gateway.GetPayment(gctx, ref)
}

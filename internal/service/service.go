// Package service реализует приём заказов и сверку платежей с платёжным шлюзом.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/events"
	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/repository"
)

// Источники переходов статуса, попадающие в логи и события.
const (
	SourceVerify  = "verify"
	SourceWebhook = "webhook"
	SourceCancel  = "cancel"
	SourceSweep   = "sweep"
)

// Ledger описывает контракт журнала заказов, используемый сервисом.
type Ledger interface {
	Close() error
	Ping(ctx context.Context) error
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByPaymentRef(ctx context.Context, paymentRef string) (*model.Order, error)
	TransitionOrder(ctx context.Context, id string, t model.Transition) (*model.Order, bool, error)
	GetStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]model.Order, error)
}

// PriceAuthority возвращает серверную цену позиции каталога.
type PriceAuthority interface {
	Lookup(ref string) (model.CatalogEntry, error)
}

// Gateway возвращает авторитетные сведения о платеже.
type Gateway interface {
	GetPayment(ctx context.Context, paymentRef string) (*model.Payment, error)
}

// Publisher публикует события смены статуса заказа.
type Publisher interface {
	Publish(ctx context.Context, e events.OrderStatusChanged) error
}

// Options содержит настройки сервиса.
type Options struct {
	WebhookSecret  string
	GatewayTimeout time.Duration
}

// Service содержит бизнес-логику приёма заказов и сверки оплат.
type Service struct {
	ledger    Ledger
	catalog   PriceAuthority
	gateway   Gateway
	publisher Publisher
	logger    *zap.Logger

	webhookSecret  string
	gatewayTimeout time.Duration

	now   func() time.Time
	newID func() string
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(ledger Ledger, catalog PriceAuthority, gateway Gateway, publisher Publisher, logger *zap.Logger, opts Options) *Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}

	return &Service{
		ledger:         ledger,
		catalog:        catalog,
		gateway:        gateway,
		publisher:      publisher,
		logger:         logger,
		webhookSecret:  opts.WebhookSecret,
		gatewayTimeout: opts.GatewayTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.ledger != nil {
		return s.ledger.Close()
	}
	return nil
}

// Ping проверяет доступность журнала заказов.
func (s *Service) Ping(ctx context.Context) error {
	return s.ledger.Ping(ctx)
}

// GetOrder возвращает заказ по идентификатору.
func (s *Service) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingField)
	}
	return s.ledger.GetOrder(ctx, id)
}

// transition применяет условный переход из PENDING. Если заказ уже закрыт,
// возвращается его текущее состояние и applied = false.
func (s *Service) transition(ctx context.Context, o *model.Order, t model.Transition, source string) (*model.Order, bool, error) {
	t.At = s.now().UTC()

	updated, applied, err := s.ledger.TransitionOrder(ctx, o.ID, t)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentRefInUse) {
			s.logTamper("payment_conflict",
				zap.String("order_id", o.ID),
				zap.String("payment_id", t.PaymentRef),
				zap.String("source", source),
			)
			return nil, false, fmt.Errorf("%w: %w", ErrPaymentConflict, err)
		}
		return nil, false, err
	}

	if !applied {
		s.logger.Info("order transition skipped",
			zap.String("order_id", o.ID),
			zap.String("current", string(updated.Status)),
			zap.String("requested", string(t.To)),
			zap.String("source", source),
		)
		return updated, false, nil
	}

	s.logger.Info("order transitioned",
		zap.String("order_id", o.ID),
		zap.String("from", string(model.OrderStatusPending)),
		zap.String("to", string(updated.Status)),
		zap.String("payment_id", updated.PaymentRef),
		zap.String("source", source),
	)

	e := events.NewOrderStatusChanged(model.OrderStatusPending, updated, source, t.At)
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Error("publish order event error", zap.Error(err), zap.String("order_id", o.ID))
	}

	return updated, true, nil
}

// settlePaid применяет оплату, подтверждённую шлюзом. При расхождении суммы заказ
// переводится в mismatchStatus и возвращается ErrAmountMismatch.
func (s *Service) settlePaid(ctx context.Context, o *model.Order, p *model.Payment, source string, mismatchStatus model.OrderStatus) (*model.Order, error) {
	if p.TotalAmount != o.Total() {
		s.logTamper("amount_mismatch",
			zap.String("order_id", o.ID),
			zap.String("payment_id", p.PaymentRef),
			zap.Int64("expected", o.Total()),
			zap.Int64("received", p.TotalAmount),
			zap.String("source", source),
		)

		updated, _, err := s.transition(ctx, o, model.Transition{
			To:            mismatchStatus,
			PaymentRef:    p.PaymentRef,
			PaymentMethod: p.Method,
		}, source)
		if err != nil {
			return nil, err
		}
		return updated, fmt.Errorf("%w: expected %d, received %d", ErrAmountMismatch, o.Total(), p.TotalAmount)
	}

	updated, applied, err := s.transition(ctx, o, model.Transition{
		To:            model.OrderStatusPaid,
		PaymentRef:    p.PaymentRef,
		PaymentMethod: p.Method,
	}, source)
	if err != nil {
		return nil, err
	}

	if !applied && updated.Status != model.OrderStatusPaid {
		s.logger.Warn("payment captured for closed order, refund required",
			zap.String("order_id", o.ID),
			zap.String("payment_id", p.PaymentRef),
			zap.String("status", string(updated.Status)),
			zap.Int64("amount", p.TotalAmount),
			zap.String("source", source),
		)
		return updated, fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, updated.Status)
	}

	return updated, nil
}

func (s *Service) logTamper(reason string, fields ...zap.Field) {
	s.logger.Warn("tamper detected", append([]zap.Field{
		zap.String("event", "tamper"),
		zap.String("reason", reason),
	}, fields...)...)
}

// closedOrderError возвращает ошибку попытки перехода из терминального статуса.
func closedOrderError(o *model.Order) error {
	if o.Status == model.OrderStatusPaid {
		return ErrAlreadyPaid
	}
	return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.Status)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/portone"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/validation"
)

// VerifyResult описывает итог синхронной сверки платежа.
type VerifyResult struct {
	OrderID     string
	Status      model.OrderStatus
	AlreadyPaid bool
}

// VerifyPayment сверяет платёж, о котором сообщил клиент, с данными шлюза
// и переводит заказ в PAID только при точном совпадении суммы.
func (s *Service) VerifyPayment(ctx context.Context, paymentRef, orderID string) (*VerifyResult, error) {
	if paymentRef == "" {
		return nil, fmt.Errorf("%w: paymentId", ErrMissingField)
	}
	if orderID == "" {
		return nil, fmt.Errorf("%w: orderId", ErrMissingField)
	}

	o, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if o.Status == model.OrderStatusPaid {
		return &VerifyResult{OrderID: o.ID, Status: o.Status, AlreadyPaid: true}, nil
	}
	if o.Status.IsTerminal() {
		return nil, closedOrderError(o)
	}

	if err := s.checkPaymentOwner(ctx, o, paymentRef); err != nil {
		return nil, err
	}

	p, err := s.queryGateway(ctx, paymentRef)
	if err != nil {
		if errors.Is(err, portone.ErrPaymentNotFound) {
			return nil, fmt.Errorf("%w: payment %s is unknown to gateway", ErrPaymentNotCompleted, paymentRef)
		}
		return nil, fmt.Errorf("query gateway: %w", err)
	}

	if p.PaymentRef != paymentRef {
		s.logTamper("payment_conflict",
			zap.String("order_id", o.ID),
			zap.String("payment_id", paymentRef),
			zap.String("gateway_payment_id", p.PaymentRef),
			zap.String("source", SourceVerify),
		)
		return nil, fmt.Errorf("%w: gateway returned payment %s for %s", ErrPaymentConflict, p.PaymentRef, paymentRef)
	}

	// Незавершённый платёж может ещё завершиться: заказ остаётся в PENDING
	// для повторной проверки или уведомления шлюза.
	if p.Status != model.PaymentStatusPaid {
		return nil, fmt.Errorf("%w: gateway status %s", ErrPaymentNotCompleted, p.Status)
	}

	updated, err := s.settlePaid(ctx, o, p, SourceVerify, model.OrderStatusFailed)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{OrderID: updated.ID, Status: updated.Status}, nil
}

// checkPaymentOwner отклоняет платёж, который уже привязан к другому заказу
// или является идентификатором другого заказа.
func (s *Service) checkPaymentOwner(ctx context.Context, o *model.Order, paymentRef string) error {
	owner, err := s.ledger.GetOrderByPaymentRef(ctx, paymentRef)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil
		}
		return fmt.Errorf("lookup payment owner: %w", err)
	}
	if owner.ID == o.ID {
		return nil
	}

	s.logTamper("payment_conflict",
		zap.String("order_id", o.ID),
		zap.String("payment_id", paymentRef),
		zap.String("owner_order_id", owner.ID),
		zap.String("source", SourceVerify),
	)
	return fmt.Errorf("%w: payment %s belongs to order %s", ErrPaymentConflict, paymentRef, owner.ID)
}

// WebhookOutcome описывает, как было обработано уведомление шлюза.
type WebhookOutcome string

const (
	WebhookPaid           WebhookOutcome = "paid"
	WebhookAmountMismatch WebhookOutcome = "amount_mismatch"
	WebhookCancelled      WebhookOutcome = "cancelled"
	WebhookAlreadySettled WebhookOutcome = "already_settled"
	WebhookUnknownOrder   WebhookOutcome = "unknown_order"
	WebhookIgnored        WebhookOutcome = "ignored"
)

// WebhookResult описывает итог обработки уведомления.
type WebhookResult struct {
	Outcome WebhookOutcome
	OrderID string
}

type webhookPayload struct {
	Type string `json:"type"`
	Data *struct {
		PaymentID   string `json:"paymentId"`
		Status      string `json:"status"`
		TotalAmount *int64 `json:"totalAmount"`
		PayMethod   string `json:"payMethod"`
	} `json:"data"`
}

// HandleWebhook проверяет подпись уведомления по исходным байтам тела и применяет
// ту же политику сверки, что и VerifyPayment. Любой обработанный исход, включая
// отказ по бизнес-правилам, возвращается без ошибки.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, ErrMissingSignature
	}
	if s.webhookSecret == "" {
		return nil, ErrWebhookNotConfigured
	}
	if !validation.IsValidSignature(rawBody, signature, s.webhookSecret) {
		s.logger.Warn("webhook signature mismatch", zap.Int("body_size", len(rawBody)))
		return nil, ErrInvalidSignature
	}

	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedWebhook, err)
	}
	if payload.Data == nil || payload.Data.PaymentID == "" || payload.Data.Status == "" || payload.Data.TotalAmount == nil {
		return nil, fmt.Errorf("%w: paymentId, status and totalAmount are required", ErrMalformedWebhook)
	}

	p := &model.Payment{
		PaymentRef:  payload.Data.PaymentID,
		Status:      model.PaymentStatus(strings.ToUpper(payload.Data.Status)),
		TotalAmount: *payload.Data.TotalAmount,
		Method:      payload.Data.PayMethod,
	}

	s.logger.Info("webhook received",
		zap.String("type", payload.Type),
		zap.String("payment_id", p.PaymentRef),
		zap.String("status", string(p.Status)),
		zap.Int64("amount", p.TotalAmount),
	)

	o, err := s.ledger.GetOrderByPaymentRef(ctx, p.PaymentRef)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.logger.Warn("webhook for unknown order", zap.String("payment_id", p.PaymentRef))
			return &WebhookResult{Outcome: WebhookUnknownOrder}, nil
		}
		return nil, err
	}

	switch {
	case p.Status == model.PaymentStatusPaid:
		return s.applyPaidWebhook(ctx, o, p)
	case p.Status.IsRejected():
		return s.applyRejectedWebhook(ctx, o, p)
	default:
		return &WebhookResult{Outcome: WebhookIgnored, OrderID: o.ID}, nil
	}
}

func (s *Service) applyPaidWebhook(ctx context.Context, o *model.Order, p *model.Payment) (*WebhookResult, error) {
	wasPaid := o.Status == model.OrderStatusPaid

	_, err := s.settlePaid(ctx, o, p, SourceWebhook, model.OrderStatusCancelled)
	switch {
	case errors.Is(err, ErrAmountMismatch):
		return &WebhookResult{Outcome: WebhookAmountMismatch, OrderID: o.ID}, nil
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrPaymentConflict):
		return &WebhookResult{Outcome: WebhookIgnored, OrderID: o.ID}, nil
	case err != nil:
		return nil, err
	}

	if wasPaid {
		return &WebhookResult{Outcome: WebhookAlreadySettled, OrderID: o.ID}, nil
	}
	return &WebhookResult{Outcome: WebhookPaid, OrderID: o.ID}, nil
}

func (s *Service) applyRejectedWebhook(ctx context.Context, o *model.Order, p *model.Payment) (*WebhookResult, error) {
	updated, applied, err := s.transition(ctx, o, model.Transition{
		To:            model.OrderStatusCancelled,
		PaymentRef:    p.PaymentRef,
		PaymentMethod: p.Method,
	}, SourceWebhook)
	if errors.Is(err, ErrPaymentConflict) {
		return &WebhookResult{Outcome: WebhookIgnored, OrderID: o.ID}, nil
	}
	if err != nil {
		return nil, err
	}

	switch {
	case applied:
		return &WebhookResult{Outcome: WebhookCancelled, OrderID: o.ID}, nil
	case updated.Status == model.OrderStatusPaid:
		return &WebhookResult{Outcome: WebhookAlreadySettled, OrderID: o.ID}, nil
	default:
		return &WebhookResult{Outcome: WebhookIgnored, OrderID: o.ID}, nil
	}
}

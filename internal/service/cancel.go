package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

// CancelOrder аннулирует заказ, оплата которого ещё не завершена.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: orderId", ErrMissingField)
	}

	o, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.IsTerminal() {
		return nil, closedOrderError(o)
	}

	updated, applied, err := s.transition(ctx, o, model.Transition{To: model.OrderStatusCancelled}, SourceCancel)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, closedOrderError(updated)
	}

	return updated, nil
}

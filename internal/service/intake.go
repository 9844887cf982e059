package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/catalog"
	"github.com/mmeshcher/storefront-payments/internal/model"
)

// CreateOrderRequest описывает заявку клиента на заказ. Обязательные поля
// передаются указателями, чтобы отличать отсутствие значения от нуля.
type CreateOrderRequest struct {
	BundleID        *string
	BundleName      *string
	Quantity        *int
	Amount          *int64
	ShippingFee     *int64
	CustomerName    *string
	CustomerPhone   *string
	CustomerAddress *string
	Attribution     model.Attribution
}

func (r CreateOrderRequest) missingField() string {
	switch {
	case blank(r.BundleID):
		return "bundleId"
	case blank(r.BundleName):
		return "bundleName"
	case r.Quantity == nil:
		return "quantity"
	case r.Amount == nil:
		return "amount"
	case r.ShippingFee == nil:
		return "shippingFee"
	case blank(r.CustomerName):
		return "customerName"
	case blank(r.CustomerPhone):
		return "customerPhone"
	case blank(r.CustomerAddress):
		return "customerAddress"
	default:
		return ""
	}
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// CreateOrder проверяет заявку по серверному каталогу и сохраняет заказ в статусе PENDING.
// В заказ записываются цена и доставка из каталога, а не значения клиента.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	if field := req.missingField(); field != "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, field)
	}

	if *req.Amount < 0 || *req.ShippingFee < 0 {
		return nil, ErrInvalidAmount
	}
	if *req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	bundleID := strings.TrimSpace(*req.BundleID)

	entry, err := s.catalog.Lookup(bundleID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("lookup catalog: %w", err)
		}
		s.logTamper("unknown_product", zap.String("bundle_id", bundleID))
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, bundleID)
	}

	if entry.Price != *req.Amount {
		s.logTamper("price_mismatch",
			zap.String("bundle_id", bundleID),
			zap.Int64("expected", entry.Price),
			zap.Int64("received", *req.Amount),
		)
		return nil, ErrPriceMismatch
	}

	if entry.ShippingFee != *req.ShippingFee {
		s.logTamper("shipping_mismatch",
			zap.String("bundle_id", bundleID),
			zap.Int64("expected", entry.ShippingFee),
			zap.Int64("received", *req.ShippingFee),
		)
		return nil, ErrShippingMismatch
	}

	o := &model.Order{
		ID:          s.newID(),
		BundleID:    entry.ID,
		BundleName:  strings.TrimSpace(*req.BundleName),
		Quantity:    *req.Quantity,
		Amount:      entry.Price,
		ShippingFee: entry.ShippingFee,
		Customer: model.Customer{
			Name:    strings.TrimSpace(*req.CustomerName),
			Phone:   strings.TrimSpace(*req.CustomerPhone),
			Address: strings.TrimSpace(*req.CustomerAddress),
		},
		Attribution: req.Attribution,
		Status:      model.OrderStatusPending,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.ledger.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("bundle_id", o.BundleID),
		zap.Int64("amount", o.Amount),
		zap.Int64("shipping_fee", o.ShippingFee),
	)

	return o, nil
}

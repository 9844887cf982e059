package service

import "errors"

// Ошибки проверки заявки на заказ.
var (
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidAmount    = errors.New("amount must not be negative")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrUnknownProduct   = errors.New("unknown product")
	ErrPriceMismatch    = errors.New("price mismatch")
	ErrShippingMismatch = errors.New("shipping fee mismatch")
)

// Ошибки жизненного цикла заказа.
var (
	ErrAlreadyPaid         = errors.New("order already paid")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrAmountMismatch      = errors.New("payment amount mismatch")
	ErrPaymentConflict     = errors.New("payment belongs to another order")
)

// Ошибки приёма уведомлений шлюза.
var (
	ErrMissingSignature     = errors.New("missing webhook signature")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrMalformedWebhook     = errors.New("malformed webhook payload")
	ErrWebhookNotConfigured = errors.New("webhook secret is not configured")
)

// IsValidationError сообщает, что ошибка вызвана некорректными данными клиента.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrUnknownProduct) ||
		errors.Is(err, ErrPriceMismatch) ||
		errors.Is(err, ErrShippingMismatch)
}

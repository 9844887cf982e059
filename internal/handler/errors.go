package handler

import (
	"errors"
	"net/http"

	"github.com/mmeshcher/storefront-payments/internal/portone"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/service"
)

var errInvalidJSON = errors.New("invalid JSON body")

// HTTPStatus сопоставляет ошибку бизнес-логики с кодом ответа.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, errInvalidJSON),
		service.IsValidationError(err),
		errors.Is(err, service.ErrAlreadyPaid),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrPaymentNotCompleted),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrPaymentConflict),
		errors.Is(err, service.ErrMissingSignature),
		errors.Is(err, service.ErrMalformedWebhook):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized

	case errors.Is(err, repository.ErrOrderNotFound):
		return http.StatusNotFound

	case errors.Is(err, portone.ErrUnavailable):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}

// publicMessage возвращает текст ошибки, который можно показать клиенту.
// Внутренние ошибки не раскрываются.
func publicMessage(err error) string {
	switch HTTPStatus(err) {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized:
		return err.Error()
	case http.StatusBadGateway:
		return "payment gateway unavailable"
	default:
		return http.StatusText(http.StatusInternalServerError)
	}
}

// Package handler содержит HTTP-обработчики API оплаты заказов витрины.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/service"
)

// SignatureHeader заголовок с подписью уведомления платёжного шлюза.
const SignatureHeader = "X-Portone-Signature"

const (
	maxBodyBytes    = 64 << 10
	healthCheckWait = 2 * time.Second
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*model.Order, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	VerifyPayment(ctx context.Context, paymentRef, orderID string) (*service.VerifyResult, error)
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*service.WebhookResult, error)
	CancelOrder(ctx context.Context, orderID string) (*model.Order, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: s,
		logger:  logger,
	}
}

// CreateOrder принимает заявку на заказ и сохраняет её в статусе PENDING.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	o, err := h.service.CreateOrder(r.Context(), req.toService())
	if err != nil {
		h.logFailure("create order error", err)
		writeJSON(w, HTTPStatus(err), errorResponse{Error: publicMessage(err)})
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

// GetOrder возвращает заказ по идентификатору из параметра id.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.GetOrder(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		h.logFailure("get order error", err)
		writeJSON(w, HTTPStatus(err), errorResponse{Error: publicMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// VerifyPayment сверяет платёж, о котором сообщил клиент после оплаты.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, verifyResponse{Error: err.Error()})
		return
	}

	res, err := h.service.VerifyPayment(r.Context(), req.PaymentID, req.OrderID)
	if err != nil {
		h.logFailure("verify payment error", err,
			zap.String("order_id", req.OrderID),
			zap.String("payment_id", req.PaymentID),
		)
		writeJSON(w, HTTPStatus(err), verifyResponse{Error: publicMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Status:  string(res.Status),
		OrderID: res.OrderID,
	})
}

// PaymentWebhook принимает уведомление шлюза. Подпись проверяется по исходным байтам тела.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "cannot read body"})
		return
	}

	res, err := h.service.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.logFailure("payment webhook error", err)
		writeJSON(w, HTTPStatus(err), webhookResponse{Error: publicMessage(err)})
		return
	}

	h.logger.Info("payment webhook processed",
		zap.String("outcome", string(res.Outcome)),
		zap.String("order_id", res.OrderID),
	)
	writeJSON(w, http.StatusOK, webhookResponse{Success: true, Outcome: string(res.Outcome)})
}

// CancelOrder аннулирует неоплаченный заказ.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, cancelResponse{Error: err.Error()})
		return
	}

	o, err := h.service.CancelOrder(r.Context(), req.OrderID)
	if err != nil {
		h.logFailure("cancel order error", err, zap.String("order_id", req.OrderID))
		writeJSON(w, HTTPStatus(err), cancelResponse{Error: publicMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, cancelResponse{
		Success: true,
		OrderID: o.ID,
		Status:  string(o.Status),
	})
}

// Health проверяет доступность журнала заказов.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckWait)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Error("health check error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// logFailure пишет ошибки клиента в Info, а внутренние в Error.
func (h *Handler) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if HTTPStatus(err) >= http.StatusInternalServerError {
		h.logger.Error(msg, fields...)
		return
	}
	h.logger.Info(msg, fields...)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errInvalidJSON
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package portone предоставляет клиент REST API платёжного шлюза PortOne.
package portone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

var (
	// ErrNotConfigured возвращается, если не заданы учётные данные магазина.
	ErrNotConfigured = errors.New("payment gateway is not configured")
	// ErrUnavailable возвращается, если шлюз недоступен или ответил ошибкой; запрос можно повторить.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrPaymentNotFound возвращается, если шлюз не знает платежа с таким идентификатором.
	ErrPaymentNotFound = errors.New("payment not found at gateway")
)

// DefaultBaseURL адрес публичного API шлюза.
const DefaultBaseURL = "https://api.portone.io"

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL   string
	storeID   string
	apiSecret string
	http      *retryablehttp.Client
}

// PaymentInfo описывает ответ шлюза по одному платежу.
type PaymentInfo struct {
	ID          string `json:"id"`
	PaymentID   string `json:"paymentId"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"totalAmount"`
	Currency    string `json:"currency"`
	PayMethod   string `json:"payMethod"`
	PaidAt      string `json:"paidAt,omitempty"`
	FailReason  string `json:"failReason,omitempty"`
}

// NewClient создаёт клиент шлюза с ограниченным временем ожидания и повторами.
func NewClient(baseURL, storeID, apiSecret string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	if logger != nil {
		rc.Logger = leveledLogger{logger.Sugar()}
	}

	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		storeID:   storeID,
		apiSecret: apiSecret,
		http:      rc,
	}
}

// Configured сообщает, заданы ли учётные данные магазина.
func (c *Client) Configured() bool {
	return c != nil && c.storeID != "" && c.apiSecret != ""
}

// GetPayment запрашивает у шлюза актуальное состояние платежа.
func (c *Client) GetPayment(ctx context.Context, paymentRef string) (*model.Payment, error) {
	info, err := c.GetPaymentInfo(ctx, paymentRef)
	if err != nil {
		return nil, err
	}

	ref := info.PaymentID
	if ref == "" {
		ref = paymentRef
	}

	return &model.Payment{
		PaymentRef:  ref,
		Status:      model.PaymentStatus(strings.ToUpper(info.Status)),
		TotalAmount: info.TotalAmount,
		Method:      info.PayMethod,
	}, nil
}

// GetPaymentInfo возвращает ответ шлюза по платежу без преобразования.
func (c *Client) GetPaymentInfo(ctx context.Context, paymentRef string) (*PaymentInfo, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/payments/%s", c.baseURL, url.PathEscape(paymentRef))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.storeID, c.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentRef)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: credentials rejected (status %d)", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var info PaymentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}

	return &info, nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

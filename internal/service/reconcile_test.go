package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/portone"
	"github.com/mmeshcher/storefront-payments/internal/repository"
	"github.com/mmeshcher/storefront-payments/internal/validation"
)

func (e *testEnv) gatewayPayment(ref string, status model.PaymentStatus, amount int64) {
	e.gateway.mu.Lock()
	defer e.gateway.mu.Unlock()
	e.gateway.payments[ref] = &model.Payment{PaymentRef: ref, Status: status, TotalAmount: amount, Method: "CARD"}
}

func TestVerifyPayment_Paid(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)
	env.gatewayPayment("pay-1", model.PaymentStatusPaid, 25000)

	res, err := env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, res.Status)
	assert.False(t, res.AlreadyPaid)

	o, err := env.ledger.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, o.Status)
	assert.Equal(t, "pay-1", o.PaymentRef)
	assert.Equal(t, "CARD", o.PaymentMethod)
	require.NotNil(t, o.PaidAt)

	require.Len(t, env.publisher.events, 1)
	assert.Equal(t, model.OrderStatusPending, env.publisher.events[0].From)
	assert.Equal(t, model.OrderStatusPaid, env.publisher.events[0].To)
	assert.Equal(t, SourceVerify, env.publisher.events[0].Source)
}

func TestVerifyPayment_ComparesTotalWithShipping(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 3000)
	env.gatewayPayment("pay-1", model.PaymentStatusPaid, 28000)

	res, err := env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, res.Status)
}

func TestVerifyPayment_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)
	env.gatewayPayment("pay-1", model.PaymentStatusPaid, 25000)

	_, err := env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
	require.NoError(t, err)

	first, err := env.ledger.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)

	res, err := env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
	require.NoError(t, err)
	assert.True(t, res.AlreadyPaid)
	assert.Equal(t, model.OrderStatusPaid, res.Status)

	second, err := env.ledger.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, *first.PaidAt, *second.PaidAt)
	assert.Equal(t, 1, env.gateway.calls)
	assert.Len(t, env.publisher.events, 1)
}

func TestVerifyPayment_NotCompleted(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)
	env.gatewayPayment("pay-1", model.PaymentStatus("READY"), 25000)

	_, err := env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
	require.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, model.OrderStatusPending, env.ledger.status("o-1"))

	_, err = env.svc.VerifyPayment(context.Background(), "pay-unknown", "o-1")
	require.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Equal(t, model.OrderStatusPending, env.ledger.status("o-1"))
	assert.Empty(t, env.publisher.events)
}

func TestVerifyPayment_AmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)
	env.gatewayPayment("pay-1", model.PaymentStatusPaid, 100)

	_, err := env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
	require.ErrorIs(t, err, ErrAmountMismatch)

	o, err := env.ledger.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, o.Status)
	assert.Nil(t, o.PaidAt)
	assert.Equal(t, 1, env.tamperEvents("amount_mismatch"))
}

func TestVerifyPayment_ClosedOrder(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)
	env.gatewayPayment("pay-1", model.PaymentStatusPaid, 25000)

	_, err := env.svc.CancelOrder(context.Background(), "o-1")
	require.NoError(t, err)

	_, err = env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.OrderStatusCancelled, env.ledger.status("o-1"))
	assert.Equal(t, 0, env.gateway.calls)
}

func TestVerifyPayment_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	_, err := env.svc.VerifyPayment(context.Background(), "", "o-1")
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = env.svc.VerifyPayment(context.Background(), "pay-1", "")
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = env.svc.VerifyPayment(context.Background(), "pay-1", "missing")
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)

	env.gateway.err = fmt.Errorf("%w: timeout", portone.ErrUnavailable)
	_, err = env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
	assert.ErrorIs(t, err, portone.ErrUnavailable)
	assert.Equal(t, model.OrderStatusPending, env.ledger.status("o-1"))
}

func TestVerifyAndCancel_Race(t *testing.T) {
	for i := 0; i < 20; i++ {
		env := newTestEnv(t)
		env.pendingOrder("o-1", 25000, 0)
		env.gatewayPayment("pay-1", model.PaymentStatusPaid, 25000)

		var (
			wg                   sync.WaitGroup
			verifyErr, cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, verifyErr = env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = env.svc.CancelOrder(context.Background(), "o-1")
		}()
		wg.Wait()

		status := env.ledger.status("o-1")
		switch status {
		case model.OrderStatusPaid:
			require.NoError(t, verifyErr)
			require.ErrorIs(t, cancelErr, ErrAlreadyPaid)
		case model.OrderStatusCancelled:
			require.NoError(t, cancelErr)
			require.ErrorIs(t, verifyErr, ErrInvalidTransition)
		default:
			t.Fatalf("unexpected status %s", status)
		}
		assert.Len(t, env.publisher.events, 1)
	}
}

func webhookBody(paymentID, status string, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"Transaction.Paid","data":{"paymentId":%q,"status":%q,"totalAmount":%d,"payMethod":"CARD"}}`,
		paymentID, status, amount,
	))
}

func sign(body []byte) string {
	return validation.SignPayload(body, testWebhookSecret)
}

func TestHandleWebhook_Paid(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	body := webhookBody("o-1", "PAID", 25000)
	res, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookPaid, res.Outcome)
	assert.Equal(t, "o-1", res.OrderID)

	o, err := env.ledger.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, o.Status)
	assert.Equal(t, "o-1", o.PaymentRef)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, SourceWebhook, env.publisher.events[0].Source)
}

func TestHandleWebhook_LooksUpByPaymentRef(t *testing.T) {
	env := newTestEnv(t)
	o := env.pendingOrder("o-1", 25000, 0)
	o.PaymentRef = "pay-77"
	env.ledger.put(o)

	body := webhookBody("pay-77", "paid", 25000)
	res, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookPaid, res.Outcome)
	assert.Equal(t, "o-1", res.OrderID)
	assert.Equal(t, model.OrderStatusPaid, env.ledger.status("o-1"))
}

func TestHandleWebhook_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	body := webhookBody("o-1", "PAID", 25000)
	_, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)

	first, err := env.ledger.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)

	res, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookAlreadySettled, res.Outcome)

	second, err := env.ledger.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, *first.PaidAt, *second.PaidAt)
	assert.Len(t, env.publisher.events, 1)
}

func TestHandleWebhook_AmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	body := webhookBody("o-1", "PAID", 20000)
	res, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookAmountMismatch, res.Outcome)
	assert.Equal(t, model.OrderStatusCancelled, env.ledger.status("o-1"))
	assert.Equal(t, 1, env.tamperEvents("amount_mismatch"))
}

func TestHandleWebhook_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	body := webhookBody("o-1", "FAILED", 25000)
	res, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookCancelled, res.Outcome)
	assert.Equal(t, model.OrderStatusCancelled, env.ledger.status("o-1"))
}

func TestHandleWebhook_RejectedAfterPaid(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	paid := webhookBody("o-1", "PAID", 25000)
	_, err := env.svc.HandleWebhook(context.Background(), paid, sign(paid))
	require.NoError(t, err)

	cancelled := webhookBody("o-1", "CANCELLED", 25000)
	res, err := env.svc.HandleWebhook(context.Background(), cancelled, sign(cancelled))
	require.NoError(t, err)
	assert.Equal(t, WebhookAlreadySettled, res.Outcome)
	assert.Equal(t, model.OrderStatusPaid, env.ledger.status("o-1"))
}

func TestHandleWebhook_PaidForCancelledOrder(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	_, err := env.svc.CancelOrder(context.Background(), "o-1")
	require.NoError(t, err)

	body := webhookBody("o-1", "PAID", 25000)
	res, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)
	assert.Equal(t, model.OrderStatusCancelled, env.ledger.status("o-1"))
	assert.Equal(t, 1, env.logs.FilterMessage("payment captured for closed order, refund required").Len())
}

func TestHandleWebhook_IgnoredStatus(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	body := webhookBody("o-1", "READY", 25000)
	res, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Outcome)
	assert.Equal(t, model.OrderStatusPending, env.ledger.status("o-1"))
}

func TestHandleWebhook_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	body := webhookBody("nobody", "PAID", 25000)
	res, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, WebhookUnknownOrder, res.Outcome)
	assert.Empty(t, res.OrderID)
}

func TestHandleWebhook_SignatureOverRawBytes(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	body := webhookBody("o-1", "PAID", 25000)
	signature := sign(body)

	reformatted := append([]byte(" "), body...)
	_, err := env.svc.HandleWebhook(context.Background(), reformatted, signature)
	require.ErrorIs(t, err, ErrInvalidSignature)

	tampered := webhookBody("o-1", "PAID", 100)
	_, err = env.svc.HandleWebhook(context.Background(), tampered, signature)
	require.ErrorIs(t, err, ErrInvalidSignature)

	assert.Equal(t, model.OrderStatusPending, env.ledger.status("o-1"))
}

func TestHandleWebhook_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)

	body := webhookBody("o-1", "PAID", 25000)

	_, err := env.svc.HandleWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, ErrMissingSignature)

	malformed := []byte(`{"type":"Transaction.Paid","data":`)
	_, err = env.svc.HandleWebhook(context.Background(), malformed, sign(malformed))
	assert.ErrorIs(t, err, ErrMalformedWebhook)

	noAmount := []byte(`{"type":"Transaction.Paid","data":{"paymentId":"o-1","status":"PAID"}}`)
	_, err = env.svc.HandleWebhook(context.Background(), noAmount, sign(noAmount))
	assert.ErrorIs(t, err, ErrMalformedWebhook)

	env.svc.webhookSecret = ""
	_, err = env.svc.HandleWebhook(context.Background(), body, sign(body))
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)

	assert.Equal(t, model.OrderStatusPending, env.ledger.status("o-1"))
}

func TestHandleWebhook_LedgerError(t *testing.T) {
	env := newTestEnv(t)

	body := webhookBody("o-1", "PAID", 25000)
	failing := &failingLedger{memLedger: env.ledger, err: errors.New("db down")}
	env.svc.ledger = failing

	_, err := env.svc.HandleWebhook(context.Background(), body, sign(body))
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrOrderNotFound)
}

type failingLedger struct {
	*memLedger
	err error
}

func (l *failingLedger) GetOrderByPaymentRef(ctx context.Context, ref string) (*model.Order, error) {
	return nil, l.err
}

func TestVerifyPayment_PaymentOfAnotherOrder(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("order-a", 25000, 0)
	env.pendingOrder("order-b", 25000, 0)
	env.gatewayPayment("order-b", model.PaymentStatusPaid, 25000)

	_, err := env.svc.VerifyPayment(context.Background(), "order-b", "order-b")
	require.NoError(t, err)

	_, err = env.svc.VerifyPayment(context.Background(), "order-b", "order-a")
	require.ErrorIs(t, err, ErrPaymentConflict)

	assert.Equal(t, model.OrderStatusPending, env.ledger.status("order-a"))
	assert.Equal(t, model.OrderStatusPaid, env.ledger.status("order-b"))
	assert.Equal(t, 1, env.tamperEvents("payment_conflict"))
	assert.Len(t, env.publisher.events, 1)
}

func TestVerifyPayment_PaymentIDOfPendingOrder(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("order-a", 25000, 0)
	env.pendingOrder("order-b", 25000, 0)
	env.gatewayPayment("order-b", model.PaymentStatusPaid, 25000)

	_, err := env.svc.VerifyPayment(context.Background(), "order-b", "order-a")
	require.ErrorIs(t, err, ErrPaymentConflict)
	assert.Equal(t, model.OrderStatusPending, env.ledger.status("order-a"))
	assert.Equal(t, 0, env.gateway.calls)
}

func TestVerifyPayment_GatewayReturnsOtherPayment(t *testing.T) {
	env := newTestEnv(t)
	env.pendingOrder("o-1", 25000, 0)
	env.gateway.payments["pay-1"] = &model.Payment{
		PaymentRef:  "pay-2",
		Status:      model.PaymentStatusPaid,
		TotalAmount: 25000,
	}

	_, err := env.svc.VerifyPayment(context.Background(), "pay-1", "o-1")
	require.ErrorIs(t, err, ErrPaymentConflict)
	assert.Equal(t, model.OrderStatusPending, env.ledger.status("o-1"))
	assert.Equal(t, 1, env.tamperEvents("payment_conflict"))
}

// lookupMissLedger не находит владельца платежа, как при одновременной сверке
// двух заказов до записи payment_ref.
type lookupMissLedger struct {
	*memLedger
}

func (l lookupMissLedger) GetOrderByPaymentRef(ctx context.Context, ref string) (*model.Order, error) {
	return nil, repository.ErrOrderNotFound
}

func TestVerifyPayment_PaymentRefTakenConcurrently(t *testing.T) {
	env := newTestEnv(t)
	env.svc.ledger = lookupMissLedger{env.ledger}

	env.pendingOrder("order-a", 25000, 0)
	env.pendingOrder("order-b", 25000, 0)
	env.gatewayPayment("pay-1", model.PaymentStatusPaid, 25000)

	_, err := env.svc.VerifyPayment(context.Background(), "pay-1", "order-b")
	require.NoError(t, err)

	_, err = env.svc.VerifyPayment(context.Background(), "pay-1", "order-a")
	require.ErrorIs(t, err, ErrPaymentConflict)
	assert.Equal(t, model.OrderStatusPending, env.ledger.status("order-a"))
	assert.Len(t, env.publisher.events, 1)
}

func TestVerifyAndWebhook_Race(t *testing.T) {
	for i := 0; i < 20; i++ {
		env := newTestEnv(t)
		env.pendingOrder("o-1", 25000, 0)
		env.gatewayPayment("o-1", model.PaymentStatusPaid, 100)

		body := webhookBody("o-1", "PAID", 25000)

		var (
			wg         sync.WaitGroup
			webhookRes *WebhookResult
			webhookErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = env.svc.VerifyPayment(context.Background(), "o-1", "o-1")
		}()
		go func() {
			defer wg.Done()
			webhookRes, webhookErr = env.svc.HandleWebhook(context.Background(), body, sign(body))
		}()
		wg.Wait()

		require.NoError(t, webhookErr)

		o, err := env.ledger.GetOrder(context.Background(), "o-1")
		require.NoError(t, err)

		switch o.Status {
		case model.OrderStatusPaid:
			assert.Equal(t, WebhookPaid, webhookRes.Outcome)
			assert.NotNil(t, o.PaidAt)
		case model.OrderStatusFailed:
			assert.Equal(t, WebhookIgnored, webhookRes.Outcome)
			assert.Nil(t, o.PaidAt)
		default:
			t.Fatalf("unexpected status %s", o.Status)
		}

		require.Len(t, env.publisher.events, 1)
		assert.Equal(t, o.Status, env.publisher.events[0].To)
	}
}

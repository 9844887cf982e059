// Package events публикует события смены статуса заказов.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-payments/internal/model"
)

// DefaultTopic топик событий смены статуса заказа.
const DefaultTopic = "storefront.order-status"

// OrderStatusChanged описывает применённый переход статуса заказа.
type OrderStatusChanged struct {
	OrderID     string            `json:"orderId"`
	From        model.OrderStatus `json:"from"`
	To          model.OrderStatus `json:"to"`
	PaymentID   string            `json:"paymentId,omitempty"`
	Amount      int64             `json:"amount"`
	ShippingFee int64             `json:"shippingFee"`
	Source      string            `json:"source"`
	OccurredAt  time.Time         `json:"occurredAt"`
}

// NewOrderStatusChanged собирает событие по заказу после перехода.
func NewOrderStatusChanged(from model.OrderStatus, o *model.Order, source string, at time.Time) OrderStatusChanged {
	return OrderStatusChanged{
		OrderID:     o.ID,
		From:        from,
		To:          o.Status,
		PaymentID:   o.PaymentRef,
		Amount:      o.Amount,
		ShippingFee: o.ShippingFee,
		Source:      source,
		OccurredAt:  at.UTC(),
	}
}

// Encode возвращает ключ и тело сообщения.
func (e OrderStatusChanged) Encode() ([]byte, []byte, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal event: %w", err)
	}
	return []byte(e.OrderID), value, nil
}

// NopPublisher отбрасывает события, когда брокер не настроен.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, OrderStatusChanged) error { return nil }

// Close ничего не делает.
func (NopPublisher) Close() {}

// KafkaPublisher отправляет события в Kafka. Ключ сообщения - идентификатор заказа,
// поэтому события одного заказа попадают в одну партицию по порядку.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher создаёт продюсера для списка брокеров через запятую.
func NewKafkaPublisher(brokers, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	seeds := SplitBrokers(brokers)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no kafka brokers")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordDeliveryTimeout(5*time.Second),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// Publish ставит событие в очередь продюсера и не ждёт подтверждения брокера.
// Ошибки доставки только логируются.
func (p *KafkaPublisher) Publish(ctx context.Context, e OrderStatusChanged) error {
	key, value, err := e.Encode()
	if err != nil {
		return err
	}

	record := &kgo.Record{Topic: p.topic, Key: key, Value: value}
	p.client.Produce(context.WithoutCancel(ctx), record, p.onDelivered)
	return nil
}

func (p *KafkaPublisher) onDelivered(r *kgo.Record, err error) {
	if err == nil {
		return
	}
	p.logger.Error("produce order event error",
		zap.Error(err),
		zap.String("topic", r.Topic),
		zap.String("order_id", string(r.Key)),
	)
}

// Close дожидается отправки буферизованных сообщений и закрывает клиент.
func (p *KafkaPublisher) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = p.client.Flush(ctx)
	p.client.Close()
}

// SplitBrokers разбирает список адресов брокеров.
func SplitBrokers(s string) []string {
	var res []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			res = append(res, b)
		}
	}
	return res
}

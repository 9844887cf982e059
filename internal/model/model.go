// Package model содержит доменные сущности сервиса оплаты заказов витрины.
package model

import "time"

// OrderStatus описывает состояние заказа в жизненном цикле оплаты.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal сообщает, что из статуса нет допустимых переходов.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo сообщает, допустим ли переход из s в to.
// Все переходы ведут только из PENDING в один из терминальных статусов.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return s == OrderStatusPending && to.IsTerminal()
}

// Customer содержит данные покупателя, указанные при оформлении заказа.
type Customer struct {
	Name    string
	Phone   string
	Address string
}

// Attribution содержит маркетинговые метаданные, которые переносятся без изменений.
type Attribution struct {
	MarketingConsent bool
	UTMSource        string
	UTMMedium        string
	UTMCampaign      string
	UTMTerm          string
	UTMContent       string
}

// Order описывает попытку покупки от оформления до итогового статуса оплаты.
type Order struct {
	ID            string
	BundleID      string
	BundleName    string
	Quantity      int
	Amount        int64
	ShippingFee   int64
	Customer      Customer
	Attribution   Attribution
	Status        OrderStatus
	PaymentRef    string
	PaymentMethod string
	CreatedAt     time.Time
	PaidAt        *time.Time
}

// Total возвращает сумму, которую платёжный шлюз должен списать по заказу.
func (o Order) Total() int64 {
	return o.Amount + o.ShippingFee
}

// CatalogEntry описывает серверную цену позиции каталога.
type CatalogEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Price       int64  `yaml:"price"`
	ShippingFee int64  `yaml:"shipping"`
}

// Transition описывает запрошенную смену статуса заказа.
type Transition struct {
	To            OrderStatus
	PaymentRef    string
	PaymentMethod string
	At            time.Time
}

// PaymentStatus описывает статус платежа на стороне шлюза.
type PaymentStatus string

const (
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// IsRejected сообщает, что шлюз окончательно отклонил или отменил платёж.
func (s PaymentStatus) IsRejected() bool {
	return s == PaymentStatusFailed || s == PaymentStatusCancelled
}

// Payment описывает сведения о платеже, полученные от шлюза.
type Payment struct {
	PaymentRef  string
	Status      PaymentStatus
	TotalAmount int64
	Method      string
}

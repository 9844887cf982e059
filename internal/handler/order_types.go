package handler

import (
	"time"

	"github.com/mmeshcher/storefront-payments/internal/model"
	"github.com/mmeshcher/storefront-payments/internal/service"
)

type createOrderRequest struct {
	BundleID         *string `json:"bundleId"`
	BundleName       *string `json:"bundleName"`
	Quantity         *int    `json:"quantity"`
	Amount           *int64  `json:"amount"`
	ShippingFee      *int64  `json:"shippingFee"`
	CustomerName     *string `json:"customerName"`
	CustomerPhone    *string `json:"customerPhone"`
	CustomerAddress  *string `json:"customerAddress"`
	MarketingConsent bool    `json:"marketingConsent"`
	UTMSource        string  `json:"utm_source,omitempty"`
	UTMMedium        string  `json:"utm_medium,omitempty"`
	UTMCampaign      string  `json:"utm_campaign,omitempty"`
	UTMTerm          string  `json:"utm_term,omitempty"`
	UTMContent       string  `json:"utm_content,omitempty"`
}

func (r createOrderRequest) toService() service.CreateOrderRequest {
	return service.CreateOrderRequest{
		BundleID:        r.BundleID,
		BundleName:      r.BundleName,
		Quantity:        r.Quantity,
		Amount:          r.Amount,
		ShippingFee:     r.ShippingFee,
		CustomerName:    r.CustomerName,
		CustomerPhone:   r.CustomerPhone,
		CustomerAddress: r.CustomerAddress,
		Attribution: model.Attribution{
			MarketingConsent: r.MarketingConsent,
			UTMSource:        r.UTMSource,
			UTMMedium:        r.UTMMedium,
			UTMCampaign:      r.UTMCampaign,
			UTMTerm:          r.UTMTerm,
			UTMContent:       r.UTMContent,
		},
	}
}

type orderResponse struct {
	ID               string  `json:"id"`
	BundleID         string  `json:"bundleId"`
	BundleName       string  `json:"bundleName"`
	Quantity         int     `json:"quantity"`
	Amount           int64   `json:"amount"`
	ShippingFee      int64   `json:"shippingFee"`
	TotalAmount      int64   `json:"totalAmount"`
	CustomerName     string  `json:"customerName"`
	CustomerPhone    string  `json:"customerPhone"`
	CustomerAddress  string  `json:"customerAddress"`
	MarketingConsent bool    `json:"marketingConsent"`
	UTMSource        string  `json:"utm_source,omitempty"`
	UTMMedium        string  `json:"utm_medium,omitempty"`
	UTMCampaign      string  `json:"utm_campaign,omitempty"`
	UTMTerm          string  `json:"utm_term,omitempty"`
	UTMContent       string  `json:"utm_content,omitempty"`
	Status           string  `json:"status"`
	PaymentID        string  `json:"paymentId,omitempty"`
	PaymentMethod    string  `json:"paymentMethod,omitempty"`
	CreatedAt        string  `json:"createdAt"`
	PaidAt           *string `json:"paidAt,omitempty"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		BundleID:         o.BundleID,
		BundleName:       o.BundleName,
		Quantity:         o.Quantity,
		Amount:           o.Amount,
		ShippingFee:      o.ShippingFee,
		TotalAmount:      o.Total(),
		CustomerName:     o.Customer.Name,
		CustomerPhone:    o.Customer.Phone,
		CustomerAddress:  o.Customer.Address,
		MarketingConsent: o.Attribution.MarketingConsent,
		UTMSource:        o.Attribution.UTMSource,
		UTMMedium:        o.Attribution.UTMMedium,
		UTMCampaign:      o.Attribution.UTMCampaign,
		UTMTerm:          o.Attribution.UTMTerm,
		UTMContent:       o.Attribution.UTMContent,
		Status:           string(o.Status),
		PaymentID:        o.PaymentRef,
		PaymentMethod:    o.PaymentMethod,
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
	}
	if o.PaidAt != nil {
		paidAt := o.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &paidAt
	}
	return resp
}

type verifyRequest struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	OrderID string `json:"orderId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type cancelRequest struct {
	OrderID string `json:"orderId"`
}

type cancelResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

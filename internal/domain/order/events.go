package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

const (
	EventOrderPlaced         = "OrderPlaced"
	EventOrderStatusChanged  = "OrderStatusChanged"
	EventOrderPaymentUpdated = "OrderPaymentUpdated"
	EventOrderRefunded       = "OrderRefunded"
)

type OrderPlaced struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	BuyerEmail    string          `json:"buyer_email,omitempty"`
	Items         []Item          `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        Status          `json:"status"`
	PlacedAt      time.Time       `json:"placed_at"`
}

type OrderStatusChanged struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	BuyerEmail string    `json:"buyer_email,omitempty"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	ChangedAt  time.Time `json:"changed_at"`
}

type OrderPaymentUpdated struct {
	OrderID       string        `json:"order_id"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type OrderRefunded struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	RefundedAt    time.Time       `json:"refunded_at"`
}

func (o *Order) Placed() OrderPlaced {
	return OrderPlaced{
		OrderID:       o.ID,
		UserID:        o.UserID,
		BuyerEmail:    o.BuyerEmail,
		Items:         o.Items,
		Total:         o.Pricing.Total,
		Currency:      o.Pricing.Currency,
		PaymentMethod: o.Payment.Method,
		Status:        o.Status,
		PlacedAt:      o.CreatedAt,
	}
}

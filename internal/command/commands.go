package command

import (
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/domain/tracking"
	"github.com/shopspring/decimal"
)

// Cart Commands
type AddToCart struct {
	UserID    string `json:"user_id" validate:"required"`
	Role      string `json:"role"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type UpdateCartItem struct {
	UserID    string `json:"user_id" validate:"required"`
	Role      string `json:"role"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type RemoveFromCart struct {
	UserID    string `json:"user_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
}

type ValidateCart struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role"`
}

// Order Commands
type Checkout struct {
	UserID          string              `json:"user_id" validate:"required"`
	Role            string              `json:"role"`
	Email           string              `json:"email" validate:"omitempty,email"`
	ShippingAddress order.Address       `json:"shipping_address"`
	PaymentMethod   order.PaymentMethod `json:"payment_method" validate:"required,oneof=wallet gcash paypal bank-transfer"`
	IdempotencyKey  string              `json:"idempotency_key" validate:"omitempty,max=128"`
}

type UpdateOrderStatus struct {
	OrderID string       `json:"order_id" validate:"required"`
	Status  order.Status `json:"status" validate:"required"`
}

type AppendTrackingEvent struct {
	OrderID     string                `json:"order_id" validate:"required"`
	Status      string                `json:"status" validate:"required"`
	Location    string                `json:"location" validate:"required"`
	Notes       string                `json:"notes" validate:"max=500"`
	Coordinates *tracking.Coordinates `json:"coordinates"`
}

// Wallet Commands
type CreditWallet struct {
	UserID      string          `json:"user_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=200"`
}

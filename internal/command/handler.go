package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/domain/cart"
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/domain/tracking"
	"github.com/example/supply-marketplace/internal/domain/wallet"
	"github.com/example/supply-marketplace/internal/events"
	"github.com/example/supply-marketplace/internal/infrastructure/redisx"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
	"github.com/example/supply-marketplace/internal/payment"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var validate = validator.New()

// Services groups the domain services the handler coordinates.
type Services struct {
	Store    store.Store
	Carts    *cart.Service
	Wallets  *wallet.Service
	Orders   *order.Service
	Tracking *tracking.Service
}

// Options configures checkout.
type Options struct {
	Currency    string
	Discount    pricing.DiscountPolicy
	Shipping    pricing.ShippingPolicy
	LockTTL     time.Duration
	LockWait    time.Duration
	Gateway     payment.Gateway
	Locker      redisx.Locker
	Idempotency redisx.Idempotency
	Publisher   events.Publisher
}

type Handler struct {
	store     store.Store
	carts     *cart.Service
	wallets   *wallet.Service
	orders    *order.Service
	tracking  *tracking.Service
	gateway   payment.Gateway
	locker    redisx.Locker
	idem      redisx.Idempotency
	publisher events.Publisher
	opts      Options
	logger    *zap.Logger
}

func NewHandler(svc Services, opts Options, logger *zap.Logger) *Handler {
	if opts.Currency == "" {
		opts.Currency = "PHP"
	}
	if opts.Discount == nil {
		opts.Discount = pricing.NoDiscount
	}
	if opts.Shipping == nil {
		opts.Shipping = pricing.FlatShipping(decimal.Zero)
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = redisx.TTLCheckoutLock
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 5 * time.Second
	}
	if opts.Locker == nil {
		opts.Locker = redisx.NewLocalLocker()
	}
	if opts.Idempotency == nil {
		opts.Idempotency = redisx.NewMemoryIdempotency()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	return &Handler{
		store:     svc.Store,
		carts:     svc.Carts,
		wallets:   svc.Wallets,
		orders:    svc.Orders,
		tracking:  svc.Tracking,
		gateway:   opts.Gateway,
		locker:    opts.Locker,
		idem:      opts.Idempotency,
		publisher: opts.Publisher,
		opts:      opts,
		logger:    logger.Named("command"),
	}
}

func validateCommand(cmd any) error {
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

// AddToCart adds an item to cart
func (h *Handler) AddToCart(ctx context.Context, cmd AddToCart) (*cart.Item, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return h.carts.AddToCart(ctx, cmd.UserID, pricing.TierForRole(cmd.Role), cmd.ProductID, cmd.Quantity)
}

// UpdateCartItem sets the quantity of an existing item
func (h *Handler) UpdateCartItem(ctx context.Context, cmd UpdateCartItem) (*cart.Item, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return h.carts.UpdateQuantity(ctx, cmd.UserID, pricing.TierForRole(cmd.Role), cmd.ProductID, cmd.Quantity)
}

// RemoveFromCart removes an item from cart
func (h *Handler) RemoveFromCart(ctx context.Context, cmd RemoveFromCart) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}
	return h.carts.RemoveFromCart(ctx, cmd.UserID, cmd.ProductID)
}

// ValidateCart runs the pre-checkout check; clamped quantities are saved.
func (h *Handler) ValidateCart(ctx context.Context, cmd ValidateCart) (*cart.Validation, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return h.carts.ValidateCart(ctx, cmd.UserID, pricing.TierForRole(cmd.Role))
}

// UpdateOrderStatus moves an order through its lifecycle. Cancelling an
// order paid from the wallet credits the total back.
func (h *Handler) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatus) (*order.Order, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if _, err := order.ParseStatus(string(cmd.Status)); err != nil {
		return nil, err
	}

	o, previous, err := h.orders.UpdateStatus(ctx, cmd.OrderID, cmd.Status)
	if err != nil {
		// A cancelled order whose refund did not complete can be cancelled
		// again to retry the refund.
		if cmd.Status == order.StatusCancelled && errors.Is(err, order.ErrOrderCancelled) {
			existing, getErr := h.orders.Get(ctx, cmd.OrderID)
			if getErr == nil && existing.PaidByWallet() {
				return h.refundCancelled(ctx, existing)
			}
		}
		return nil, err
	}

	h.logger.Info("order status changed",
		zap.String("orderId", o.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(o.Status)))
	h.publish(ctx, order.AggregateType, o.ID, order.EventOrderStatusChanged, order.OrderStatusChanged{
		OrderID:    o.ID,
		UserID:     o.UserID,
		BuyerEmail: o.BuyerEmail,
		From:       previous,
		To:         o.Status,
		ChangedAt:  o.UpdatedAt,
	})

	if o.Status == order.StatusCancelled && o.PaidByWallet() {
		return h.refundCancelled(ctx, o)
	}
	return o, nil
}

func (h *Handler) refundCancelled(ctx context.Context, o *order.Order) (*order.Order, error) {
	tx, err := h.wallets.RefundOrder(ctx, o.UserID, o.Pricing.Total, o.ID, "refund for cancelled order "+o.ID)
	if err != nil {
		h.logger.Error("refund for cancelled order failed",
			zap.String("alert", "reconciliation"),
			zap.String("orderId", o.ID),
			zap.String("userId", o.UserID),
			zap.String("amount", o.Pricing.Total.String()),
			zap.Error(err))
		return nil, fmt.Errorf("refund order %s: %w", o.ID, err)
	}
	h.publish(ctx, wallet.AggregateType, tx.UserID, tx.Type.EventType(), tx.Changed())

	updated, err := h.orders.Mutate(ctx, o.ID, func(o *order.Order) error {
		o.Payment.Status = order.PaymentRefunded
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.publish(ctx, order.AggregateType, o.ID, order.EventOrderRefunded, order.OrderRefunded{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Amount:        o.Pricing.Total,
		TransactionID: tx.ID,
		RefundedAt:    tx.CreatedAt,
	})
	return updated, nil
}

// AppendTrackingEvent adds a fulfilment event to an order's timeline.
func (h *Handler) AppendTrackingEvent(ctx context.Context, cmd AppendTrackingEvent) (*tracking.Event, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return h.tracking.AppendTrackingEvent(ctx, cmd.OrderID, cmd.Status, cmd.Location, cmd.Notes, cmd.Coordinates)
}

// CreditWallet tops up a wallet.
func (h *Handler) CreditWallet(ctx context.Context, cmd CreditWallet) (*wallet.Transaction, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	description := cmd.Description
	if description == "" {
		description = "wallet top up"
	}
	tx, err := h.wallets.Credit(ctx, cmd.UserID, cmd.Amount, "", description)
	if err != nil {
		return nil, err
	}
	h.publish(ctx, wallet.AggregateType, tx.UserID, tx.Type.EventType(), tx.Changed())
	return tx, nil
}

// publish sends an event after its change is committed. Delivery failures
// are logged; the change itself stands.
func (h *Handler) publish(ctx context.Context, aggregateType, aggregateID, eventType string, data any) {
	ev, err := events.New(aggregateType, aggregateID, eventType, data)
	if err == nil {
		err = h.publisher.Publish(ctx, aggregateID, ev)
	}
	if err != nil {
		h.logger.Warn("event not published",
			zap.String("eventType", eventType),
			zap.String("aggregateId", aggregateID),
			zap.Error(err))
	}
}

package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/domain/cart"
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/domain/wallet"
	"github.com/example/supply-marketplace/internal/infrastructure/redisx"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
	"github.com/example/supply-marketplace/internal/payment"
	"go.uber.org/zap"
)

// settlement is the outcome of charging for an order.
type settlement struct {
	payment order.Payment
	status  order.Status
	debit   *wallet.Transaction
}

// Checkout turns the user's cart into an order.
//
// Checkouts for the same user run one at a time. The cart is validated and
// priced, the buyer is charged, and then the order and the removal of the
// checked-out cart items are committed together. If that commit fails after
// a wallet debit, the debit is refunded; a gateway charge that cannot be
// matched to an order is logged for reconciliation.
func (h *Handler) Checkout(ctx context.Context, cmd Checkout) (*order.Order, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if cmd.PaymentMethod != order.PaymentWallet && h.gateway == nil {
		return nil, fmt.Errorf("%w: payment method %s is not available", apperr.ErrValidation, cmd.PaymentMethod)
	}

	release, err := h.locker.Acquire(ctx, fmt.Sprintf(redisx.KeyCheckoutLock, cmd.UserID), h.opts.LockTTL, h.opts.LockWait)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn("checkout lock not released", zap.String("userId", cmd.UserID), zap.Error(err))
		}
	}()

	var idemKey string
	if cmd.IdempotencyKey != "" {
		idemKey = fmt.Sprintf(redisx.KeyIdemCheckout, cmd.UserID, cmd.IdempotencyKey)
		orderID, seen, err := h.idem.Lookup(ctx, idemKey)
		if err != nil {
			return nil, err
		}
		if seen {
			h.logger.Info("checkout replayed", zap.String("userId", cmd.UserID), zap.String("orderId", orderID))
			return h.orders.Get(ctx, orderID)
		}
	}

	orderID := order.NewID()
	// Wallet orders keep a fresh id so every debit has its own refund id.
	if idemKey != "" && cmd.PaymentMethod != order.PaymentWallet {
		orderID = order.IDForKey(cmd.UserID, cmd.IdempotencyKey)
		if existing, err := h.orders.Get(ctx, orderID); err == nil {
			h.remember(ctx, idemKey, existing.ID)
			h.logger.Info("checkout replayed", zap.String("userId", cmd.UserID), zap.String("orderId", existing.ID))
			return existing, nil
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	// 1. Validate cart against live stock and prices
	tier := pricing.TierForRole(cmd.Role)
	v, err := h.carts.ValidateCart(ctx, cmd.UserID, tier)
	if err != nil {
		return nil, err
	}
	if !v.IsValid {
		return nil, apperr.CartInvalid(v.Errors)
	}

	// 2. Freeze items and pricing
	breakdown := pricing.Quote(v.Lines(), tier, h.opts.Currency, h.opts.Discount, h.opts.Shipping)
	items := orderItems(v.Items)

	// 3. Charge
	paid, err := h.charge(ctx, cmd, orderID, breakdown)
	if err != nil {
		return nil, err
	}

	// 4-5. Persist order and clear cart in one commit
	o, err := h.orders.Draft(orderID, cmd.UserID, cmd.Role, cmd.Email, items, breakdown, cmd.ShippingAddress, paid.payment, paid.status)
	if err == nil {
		writes := append([]store.Write{order.CreateWrite(o)}, v.ClearWrites()...)
		err = h.store.Commit(ctx, writes...)
	}
	if err != nil {
		// 6. Payment taken without an order
		h.compensate(context.WithoutCancel(ctx), cmd.UserID, orderID, breakdown, paid, err)
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if idemKey != "" {
		h.remember(ctx, idemKey, o.ID)
	}

	h.logger.Info("order placed",
		zap.String("orderId", o.ID),
		zap.String("userId", o.UserID),
		zap.String("method", string(o.Payment.Method)),
		zap.String("total", o.Pricing.Total.String()),
		zap.String("status", string(o.Status)))
	if paid.debit != nil {
		h.publish(ctx, wallet.AggregateType, paid.debit.UserID, paid.debit.Type.EventType(), paid.debit.Changed())
	}
	h.publish(ctx, order.AggregateType, o.ID, order.EventOrderPlaced, o.Placed())

	return o, nil
}

func (h *Handler) charge(ctx context.Context, cmd Checkout, orderID string, breakdown pricing.Breakdown) (*settlement, error) {
	if cmd.PaymentMethod == order.PaymentWallet {
		return h.chargeWallet(ctx, cmd.UserID, orderID, breakdown)
	}

	res, err := h.gateway.CreateCharge(ctx, payment.ChargeRequest{
		Amount:   breakdown.Total,
		Currency: breakdown.Currency,
		Method:   string(cmd.PaymentMethod),
		Metadata: map[string]string{"orderId": orderID, "userId": cmd.UserID},
	})
	if err != nil {
		fields := []zap.Field{
			zap.String("userId", cmd.UserID),
			zap.String("orderId", orderID),
			zap.String("method", string(cmd.PaymentMethod)),
			zap.String("amount", breakdown.Total.String()),
			zap.Error(err),
		}
		switch {
		case errors.Is(err, apperr.ErrPaymentTimeout):
			// The gateway may still capture this charge.
			h.logger.Error("gateway charge outcome unknown", append(fields, zap.String("alert", "reconciliation"))...)
			return nil, err
		case errors.Is(err, apperr.ErrPaymentFailed):
			h.logger.Info("gateway charge failed", fields...)
			return nil, err
		}
		h.logger.Info("gateway charge failed", fields...)
		return nil, fmt.Errorf("%w: %v", apperr.ErrPaymentFailed, err)
	}

	s := &settlement{
		payment: order.Payment{Method: cmd.PaymentMethod, Status: order.PaymentPending, TransactionID: res.TransactionID},
		status:  order.StatusPending,
	}
	if res.Captured() {
		s.payment.Status = order.PaymentPaid
		s.status = order.StatusConfirmed
	}
	return s, nil
}

func (h *Handler) chargeWallet(ctx context.Context, userID, orderID string, breakdown pricing.Breakdown) (*settlement, error) {
	s := &settlement{
		payment: order.Payment{Method: order.PaymentWallet, Status: order.PaymentPaid},
		status:  order.StatusConfirmed,
	}
	if breakdown.Total.IsZero() {
		return s, nil
	}

	ok, err := h.wallets.HasSufficientBalance(ctx, userID, breakdown.Total)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: order total %s exceeds wallet balance", wallet.ErrInsufficientFunds, breakdown.Total)
	}

	tx, err := h.wallets.Debit(ctx, userID, breakdown.Total, orderID, "payment for order "+orderID)
	if err != nil {
		return nil, err
	}
	s.payment.TransactionID = tx.ID
	s.debit = tx
	return s, nil
}

func (h *Handler) compensate(ctx context.Context, userID, orderID string, breakdown pricing.Breakdown, paid *settlement, cause error) {
	fields := []zap.Field{
		zap.String("userId", userID),
		zap.String("orderId", orderID),
		zap.String("amount", breakdown.Total.String()),
		zap.String("method", string(paid.payment.Method)),
		zap.String("transactionId", paid.payment.TransactionID),
		zap.NamedError("cause", cause),
	}

	if paid.payment.Method != order.PaymentWallet {
		h.logger.Error("gateway charge has no order",
			append(fields, zap.String("alert", "reconciliation"))...)
		return
	}
	if paid.debit == nil {
		return
	}

	refund, err := h.wallets.RefundOrder(ctx, userID, breakdown.Total, orderID, "refund for order "+orderID+" that could not be saved")
	if err != nil {
		h.logger.Error("wallet debited without an order and refund failed",
			append(fields, zap.String("alert", "reconciliation"), zap.Error(err))...)
		return
	}
	h.logger.Warn("order not saved, wallet debit refunded",
		append(fields, zap.String("refundId", refund.ID))...)
	h.publish(ctx, wallet.AggregateType, refund.UserID, refund.Type.EventType(), refund.Changed())
}

func (h *Handler) remember(ctx context.Context, idemKey, orderID string) {
	if err := h.idem.Remember(ctx, idemKey, orderID); err != nil {
		h.logger.Warn("idempotency key not stored", zap.String("orderId", orderID), zap.Error(err))
	}
}

func orderItems(items []cart.CheckoutItem) []order.Item {
	out := make([]order.Item, len(items))
	for i, item := range items {
		out[i] = order.Item{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		}
	}
	return out
}

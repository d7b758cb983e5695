package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/payment"
	"go.uber.org/zap"
)

var errUnchanged = errors.New("unchanged")

// HandlePaymentNotification applies a gateway's terminal charge status to
// the order it was issued for. Repeated notifications leave the order as is.
// Money captured for a cancelled or unknown order is logged for
// reconciliation.
func (h *Handler) HandlePaymentNotification(ctx context.Context, n payment.Notification) (*order.Order, error) {
	var (
		previous  order.Status
		unmatched bool
	)
	o, err := h.orders.Mutate(ctx, n.OrderID, func(o *order.Order) error {
		unmatched = false
		if o.Payment.Method == order.PaymentWallet {
			return fmt.Errorf("%w: order %s was paid from the wallet", apperr.ErrValidation, o.ID)
		}
		if o.Payment.TransactionID != "" && o.Payment.TransactionID != n.TransactionID {
			return fmt.Errorf("%w: transaction %s does not belong to order %s", apperr.ErrValidation, n.TransactionID, o.ID)
		}
		previous = o.Status

		switch n.Status {
		case payment.StatusCaptured:
			if o.Payment.Status != order.PaymentPending {
				return errUnchanged
			}
			o.Payment.Status = order.PaymentPaid
			switch o.Status {
			case order.StatusPending:
				o.Status = order.StatusConfirmed
			case order.StatusCancelled:
				unmatched = true
			}
		case payment.StatusDenied:
			if o.Payment.Status != order.PaymentPending {
				return errUnchanged
			}
			o.Payment.Status = order.PaymentFailed
			if o.Status == order.StatusPending {
				o.Status = order.StatusCancelled
			}
		case payment.StatusRefunded:
			if o.Payment.Status == order.PaymentRefunded {
				return errUnchanged
			}
			o.Payment.Status = order.PaymentRefunded
		default:
			return fmt.Errorf("%w: unknown charge status %q", apperr.ErrValidation, n.Status)
		}
		o.Payment.TransactionID = n.TransactionID
		return nil
	})
	if errors.Is(err, errUnchanged) {
		h.logger.Info("payment notification ignored",
			zap.String("orderId", n.OrderID),
			zap.String("status", n.Status))
		return h.orders.Get(ctx, n.OrderID)
	}
	if err != nil {
		if n.Status == payment.StatusCaptured && errors.Is(err, apperr.ErrNotFound) {
			h.logger.Error("captured charge has no order",
				zap.String("alert", "reconciliation"),
				zap.String("orderId", n.OrderID),
				zap.String("transactionId", n.TransactionID),
				zap.Error(err))
		}
		return nil, err
	}
	if unmatched {
		h.logger.Error("charge captured for a cancelled order",
			zap.String("alert", "reconciliation"),
			zap.String("orderId", o.ID),
			zap.String("userId", o.UserID),
			zap.String("transactionId", o.Payment.TransactionID),
			zap.String("amount", o.Pricing.Total.String()))
	}

	h.logger.Info("payment reconciled",
		zap.String("orderId", o.ID),
		zap.String("paymentStatus", string(o.Payment.Status)),
		zap.String("status", string(o.Status)))
	h.publish(ctx, order.AggregateType, o.ID, order.EventOrderPaymentUpdated, order.OrderPaymentUpdated{
		OrderID:       o.ID,
		Status:        o.Payment.Status,
		TransactionID: o.Payment.TransactionID,
		UpdatedAt:     o.UpdatedAt,
	})
	if o.Status != previous {
		h.publish(ctx, order.AggregateType, o.ID, order.EventOrderStatusChanged, order.OrderStatusChanged{
			OrderID:    o.ID,
			UserID:     o.UserID,
			BuyerEmail: o.BuyerEmail,
			From:       previous,
			To:         o.Status,
			ChangedAt:  o.UpdatedAt,
		})
	}
	return o, nil
}

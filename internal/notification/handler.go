package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/email"
	"github.com/example/supply-marketplace/internal/events"
	"go.uber.org/zap"
)

// Mailer is the part of email.Service the notifier uses.
type Mailer interface {
	SendOrderConfirmation(to string, summary email.OrderSummary) error
	SendStatusChange(to, orderID, from, status string) error
}

// Deduper drops events that were already handled. The stream and the
// Kafka topic both deliver at least once.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Handler processes events for sending notifications
type Handler struct {
	mailer Mailer
	dedup  Deduper
	logger *zap.Logger
}

type Option func(*Handler)

func WithDeduper(d Deduper) Option {
	return func(h *Handler) { h.dedup = d }
}

func NewHandler(mailer Mailer, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{mailer: mailer, logger: logger.Named("notifier")}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleEvent processes a raw event from Kafka
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event events.Event
	if err := json.Unmarshal(value, &event); err != nil {
		h.logger.Error("failed to unmarshal event", zap.ByteString("key", key), zap.Error(err))
		return err
	}
	return h.Handle(ctx, event)
}

// Handle sends the mail an event calls for. Events without a mail are
// ignored.
func (h *Handler) Handle(ctx context.Context, event events.Event) error {
	var send func() error
	switch event.EventType {
	case order.EventOrderPlaced:
		var e order.OrderPlaced
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return fmt.Errorf("decode %s: %w", event.EventType, err)
		}
		if e.BuyerEmail == "" {
			h.logger.Warn("order placed without buyer email", zap.String("orderId", e.OrderID))
			return nil
		}
		send = func() error { return h.mailer.SendOrderConfirmation(e.BuyerEmail, summaryOf(e)) }
	case order.EventOrderStatusChanged:
		var e order.OrderStatusChanged
		if err := json.Unmarshal(event.Data, &e); err != nil {
			return fmt.Errorf("decode %s: %w", event.EventType, err)
		}
		if e.BuyerEmail == "" {
			return nil
		}
		send = func() error {
			return h.mailer.SendStatusChange(e.BuyerEmail, e.OrderID, string(e.From), string(e.To))
		}
	default:
		return nil
	}

	if h.dedup != nil && event.ID != "" {
		first, err := h.dedup.FirstSeen(ctx, event.ID)
		if err != nil {
			h.logger.Warn("dedup check failed, sending anyway", zap.String("eventId", event.ID), zap.Error(err))
		} else if !first {
			h.logger.Debug("duplicate event skipped", zap.String("eventId", event.ID))
			return nil
		}
	}

	if err := send(); err != nil {
		h.logger.Error("notification failed",
			zap.String("eventId", event.ID),
			zap.String("eventType", event.EventType),
			zap.String("orderId", event.AggregateID),
			zap.Error(err))
		if h.dedup != nil && event.ID != "" {
			if ferr := h.dedup.Forget(ctx, event.ID); ferr != nil {
				h.logger.Warn("dedup mark not cleared", zap.String("eventId", event.ID), zap.Error(ferr))
			}
		}
		return err
	}

	h.logger.Info("notification sent",
		zap.String("eventType", event.EventType),
		zap.String("orderId", event.AggregateID))
	return nil
}

func summaryOf(e order.OrderPlaced) email.OrderSummary {
	items := make([]email.OrderItem, len(e.Items))
	for i, item := range e.Items {
		items[i] = email.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		}
	}
	return email.OrderSummary{OrderID: e.OrderID, Items: items, Total: e.Total, Currency: e.Currency}
}

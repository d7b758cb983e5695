package query

import (
	"context"
	"fmt"

	"github.com/example/supply-marketplace/internal/domain/cart"
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/domain/product"
	"github.com/example/supply-marketplace/internal/domain/tracking"
	"github.com/example/supply-marketplace/internal/domain/wallet"
	"go.uber.org/zap"
)

const defaultOrderLimit = 50

type Handler struct {
	products *product.Service
	carts    *cart.Service
	wallets  *wallet.Service
	orders   *order.Service
	tracking *tracking.Service
	logger   *zap.Logger
}

func NewHandler(
	products *product.Service,
	carts *cart.Service,
	wallets *wallet.Service,
	orders *order.Service,
	tracking *tracking.Service,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		products: products,
		carts:    carts,
		wallets:  wallets,
		orders:   orders,
		tracking: tracking,
		logger:   logger.Named("query"),
	}
}

// Products
func (h *Handler) GetProduct(ctx context.Context, v Viewer, id string) (*ProductReadModel, error) {
	p, err := h.products.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive && !v.IsAdmin() {
		return nil, fmt.Errorf("%w: %s", product.ErrProductNotFound, id)
	}
	return toProductReadModel(p, pricing.TierForRole(v.Role)), nil
}

func (h *Handler) ListProducts(ctx context.Context, v Viewer, category string) ([]*ProductReadModel, error) {
	items, err := h.products.List(ctx, category)
	if err != nil {
		h.logger.Error("listing products failed", zap.String("category", category), zap.Error(err))
		return nil, err
	}
	tier := pricing.TierForRole(v.Role)
	products := make([]*ProductReadModel, 0, len(items))
	for _, p := range items {
		products = append(products, toProductReadModel(p, tier))
	}
	return products, nil
}

// Cart
func (h *Handler) GetCart(ctx context.Context, v Viewer) (*cart.Cart, error) {
	return h.carts.GetCart(ctx, v.UserID, pricing.TierForRole(v.Role))
}

// Wallet
func (h *Handler) GetWallet(ctx context.Context, v Viewer) (*wallet.Wallet, error) {
	return h.wallets.GetWallet(ctx, v.UserID)
}

func (h *Handler) GetWalletSummary(ctx context.Context, v Viewer) (*wallet.Summary, error) {
	return h.wallets.GetWalletSummary(ctx, v.UserID)
}

// Orders

// GetOrder returns an order to its buyer or to an admin. Other callers get
// the same not-found error as for a missing order.
func (h *Handler) GetOrder(ctx context.Context, v Viewer, id string) (*order.Order, error) {
	o, err := h.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != v.UserID && !v.IsAdmin() {
		return nil, fmt.Errorf("%w: %s", order.ErrOrderNotFound, id)
	}
	return o, nil
}

// ListOrders returns the viewer's orders, newest first.
func (h *Handler) ListOrders(ctx context.Context, v Viewer, limit int) ([]*order.Order, error) {
	if limit <= 0 || limit > defaultOrderLimit {
		limit = defaultOrderLimit
	}
	return h.orders.ListByUser(ctx, v.UserID, limit)
}

// Tracking
func (h *Handler) GetTrackingTimeline(ctx context.Context, v Viewer, orderID string) (*tracking.Timeline, error) {
	if _, err := h.GetOrder(ctx, v, orderID); err != nil {
		return nil, err
	}
	return h.tracking.GetTrackingTimeline(ctx, orderID)
}

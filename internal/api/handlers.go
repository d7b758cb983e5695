package api

import (
	"net/http"
	"strconv"

	"github.com/example/supply-marketplace/internal/api/middleware"
	"github.com/example/supply-marketplace/internal/command"
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/domain/tracking"
	"github.com/example/supply-marketplace/internal/payment"
	"github.com/example/supply-marketplace/internal/query"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

type Handlers struct {
	cmdHandler    *command.Handler
	queryHandler  *query.Handler
	webhookSecret string
	logger        *zap.Logger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, webhookSecret string, logger *zap.Logger) *Handlers {
	return &Handlers{
		cmdHandler:    cmdHandler,
		queryHandler:  queryHandler,
		webhookSecret: webhookSecret,
		logger:        logger.Named("api"),
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	respondError(w, r, h.logger, err)
}

// viewer returns the caller identity. Anonymous callers get the zero viewer,
// which prices at the market tier.
func viewer(r *http.Request) query.Viewer {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return query.Viewer{}
	}
	return query.Viewer{UserID: claims.UserID, Role: claims.Role}
}

// Product Handlers

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.queryHandler.ListProducts(r.Context(), viewer(r), r.URL.Query().Get("category"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.queryHandler.GetProduct(r.Context(), viewer(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// Cart Handlers

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.queryHandler.GetCart(r.Context(), viewer(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	v := viewer(r)
	item, err := h.cmdHandler.AddToCart(r.Context(), command.AddToCart{
		UserID:    v.UserID,
		Role:      v.Role,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	v := viewer(r)
	item, err := h.cmdHandler.UpdateCartItem(r.Context(), command.UpdateCartItem{
		UserID:    v.UserID,
		Role:      v.Role,
		ProductID: chi.URLParam(r, "productId"),
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	err := h.cmdHandler.RemoveFromCart(r.Context(), command.RemoveFromCart{
		UserID:    viewer(r).UserID,
		ProductID: chi.URLParam(r, "productId"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

func (h *Handlers) ValidateCart(w http.ResponseWriter, r *http.Request) {
	v := viewer(r)
	result, err := h.cmdHandler.ValidateCart(r.Context(), command.ValidateCart{UserID: v.UserID, Role: v.Role})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Checkout

type checkoutRequest struct {
	ShippingAddress order.Address       `json:"shippingAddress"`
	PaymentMethod   order.PaymentMethod `json:"paymentMethod"`
}

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	claims, _ := middleware.GetUserFromContext(r.Context())
	o, err := h.cmdHandler.Checkout(r.Context(), command.Checkout{
		UserID:          claims.UserID,
		Role:            claims.Role,
		Email:           claims.Email,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		IdempotencyKey:  r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

// Order Handlers

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.queryHandler.ListOrders(r.Context(), viewer(r), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.queryHandler.GetOrder(r.Context(), viewer(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status order.Status `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.cmdHandler.UpdateOrderStatus(r.Context(), command.UpdateOrderStatus{
		OrderID: chi.URLParam(r, "id"),
		Status:  req.Status,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Tracking Handlers

func (h *Handlers) AppendTrackingEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status      string                `json:"status"`
		Location    string                `json:"location"`
		Notes       string                `json:"notes"`
		Coordinates *tracking.Coordinates `json:"coordinates"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ev, err := h.cmdHandler.AppendTrackingEvent(r.Context(), command.AppendTrackingEvent{
		OrderID:     chi.URLParam(r, "id"),
		Status:      req.Status,
		Location:    req.Location,
		Notes:       req.Notes,
		Coordinates: req.Coordinates,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, ev)
}

func (h *Handlers) GetTrackingTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := h.queryHandler.GetTrackingTimeline(r.Context(), viewer(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tl)
}

// Wallet Handlers

func (h *Handlers) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.queryHandler.GetWallet(r.Context(), viewer(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, wallet)
}

func (h *Handlers) GetWalletSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queryHandler.GetWalletSummary(r.Context(), viewer(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Admin Handlers

func (h *Handlers) CreditWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	tx, err := h.cmdHandler.CreditWallet(r.Context(), command.CreditWallet{
		UserID:      chi.URLParam(r, "userId"),
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}

// Payment webhook

func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := payment.ParseNotification(h.webhookSecret, body, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		h.logger.Warn("webhook rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		h.fail(w, r, err)
		return
	}

	o, err := h.cmdHandler.HandlePaymentNotification(r.Context(), *n)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

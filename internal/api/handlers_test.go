package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/supply-marketplace/internal/apperr"
	"github.com/example/supply-marketplace/internal/auth"
	"github.com/example/supply-marketplace/internal/command"
	"github.com/example/supply-marketplace/internal/domain/cart"
	"github.com/example/supply-marketplace/internal/domain/order"
	"github.com/example/supply-marketplace/internal/domain/pricing"
	"github.com/example/supply-marketplace/internal/domain/product"
	"github.com/example/supply-marketplace/internal/domain/tracking"
	"github.com/example/supply-marketplace/internal/domain/wallet"
	"github.com/example/supply-marketplace/internal/infrastructure/store"
	"github.com/example/supply-marketplace/internal/payment"
	"github.com/example/supply-marketplace/internal/query"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret    = "api-test-secret-key-of-sufficient-size"
	webhookSecret = "whsec-test"
)

type apiEnv struct {
	server   *httptest.Server
	jwt      *auth.JWTService
	products *product.Service
	wallets  *wallet.Service
	gateway  *payment.Fake
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	s := store.NewMemoryStore()
	logger := zap.NewNop()

	products := product.NewService(s)
	carts := cart.NewService(s, products, logger)
	wallets := wallet.NewService(s, "PHP", logger)
	orders := order.NewService(s)
	tr := tracking.NewService(s, orders)
	gw := payment.NewFake()

	cmd := command.NewHandler(command.Services{
		Store:    s,
		Carts:    carts,
		Wallets:  wallets,
		Orders:   orders,
		Tracking: tr,
	}, command.Options{Currency: "PHP", Gateway: gw, LockWait: time.Second}, logger)
	qry := query.NewHandler(products, carts, wallets, orders, tr, logger)

	jwtService := auth.NewJWTService(testSecret, time.Hour)
	srv := httptest.NewServer(NewRouter(NewHandlers(cmd, qry, webhookSecret, logger), jwtService, logger))
	t.Cleanup(srv.Close)

	return &apiEnv{server: srv, jwt: jwtService, products: products, wallets: wallets, gateway: gw}
}

func (e *apiEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, _, err := e.jwt.GenerateAccessToken(userID, userID+"@example.com", role)
	require.NoError(t, err)
	return token
}

func (e *apiEnv) seedProduct(t *testing.T) string {
	t.Helper()
	p, err := e.products.Save(context.Background(), product.Product{
		Name:     "Portland Cement",
		Category: "building",
		Pricing: pricing.Prices{
			MarketPrice:  decimal.NewFromInt(100),
			PartnerPrice: decimal.NewFromInt(80),
			BulkPrice:    decimal.NewFromInt(70),
			Currency:     "PHP",
		},
		Inventory: product.Inventory{Stock: 50, Location: "Cebu", Supplier: "acme"},
		IsActive:  true,
	})
	require.NoError(t, err)
	return p.ID
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
	Details []string        `json:"details"`
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any, headers ...string) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

var shippingAddress = map[string]string{
	"street":     "12 Osmeña Blvd",
	"city":       "Cebu City",
	"province":   "Cebu",
	"postalCode": "6000",
}

// ============================================
// Catalog Tests
// ============================================

func TestAPI_Products_PricedForCaller(t *testing.T) {
	env := newAPIEnv(t)
	id := env.seedProduct(t)

	status, res := env.do(t, http.MethodGet, "/products/"+id, "", nil)
	require.Equal(t, http.StatusOK, status)
	var anon query.ProductReadModel
	require.NoError(t, json.Unmarshal(res.Data, &anon))
	assert.True(t, decimal.NewFromInt(100).Equal(anon.YourPrice))

	status, res = env.do(t, http.MethodGet, "/products/"+id, env.token(t, "agency-1", auth.RoleAgency), nil)
	require.Equal(t, http.StatusOK, status)
	var agency query.ProductReadModel
	require.NoError(t, json.Unmarshal(res.Data, &agency))
	assert.True(t, decimal.NewFromInt(80).Equal(agency.YourPrice))

	status, res = env.do(t, http.MethodGet, "/products/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindNotFound, res.Kind)
}

// ============================================
// Checkout Tests
// ============================================

func TestAPI_WalletCheckout(t *testing.T) {
	env := newAPIEnv(t)
	id := env.seedProduct(t)
	buyer := env.token(t, "user-1", auth.RoleCustomer)
	admin := env.token(t, "admin-1", auth.RoleAdmin)

	status, _ := env.do(t, http.MethodPost, "/admin/wallets/user-1/credit", admin,
		map[string]any{"amount": "500", "description": "top up"})
	require.Equal(t, http.StatusCreated, status)

	status, _ = env.do(t, http.MethodPost, "/cart/items", buyer, map[string]any{"productId": id, "quantity": 3})
	require.Equal(t, http.StatusOK, status)

	status, res := env.do(t, http.MethodPost, "/checkout", buyer,
		map[string]any{"shippingAddress": shippingAddress, "paymentMethod": "wallet"},
		idempotencyHeader, "checkout-1")
	require.Equal(t, http.StatusCreated, status, res.Error)

	var placed order.Order
	require.NoError(t, json.Unmarshal(res.Data, &placed))
	assert.Equal(t, order.StatusConfirmed, placed.Status)
	assert.Equal(t, "user-1@example.com", placed.BuyerEmail)
	assert.True(t, decimal.NewFromInt(300).Equal(placed.Pricing.Total))

	// Replaying the key returns the same order without charging again.
	status, res = env.do(t, http.MethodPost, "/checkout", buyer,
		map[string]any{"shippingAddress": shippingAddress, "paymentMethod": "wallet"},
		idempotencyHeader, "checkout-1")
	require.Equal(t, http.StatusCreated, status)
	var replay order.Order
	require.NoError(t, json.Unmarshal(res.Data, &replay))
	assert.Equal(t, placed.ID, replay.ID)

	w, err := env.wallets.GetWallet(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(200).Equal(w.Balance))

	status, res = env.do(t, http.MethodGet, "/orders/"+placed.ID, env.token(t, "user-2", auth.RoleCustomer), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.KindNotFound, res.Kind)
}

func TestAPI_Checkout_Failures(t *testing.T) {
	env := newAPIEnv(t)
	id := env.seedProduct(t)
	buyer := env.token(t, "user-1", auth.RoleCustomer)

	status, res := env.do(t, http.MethodPost, "/checkout", buyer,
		map[string]any{"shippingAddress": shippingAddress, "paymentMethod": "wallet"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, apperr.KindCartInvalid, res.Kind)
	assert.NotEmpty(t, res.Details)

	status, _ = env.do(t, http.MethodPost, "/cart/items", buyer, map[string]any{"productId": id, "quantity": 1})
	require.Equal(t, http.StatusOK, status)

	status, res = env.do(t, http.MethodPost, "/checkout", buyer,
		map[string]any{"shippingAddress": shippingAddress, "paymentMethod": "wallet"})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, apperr.KindInsufficientFunds, res.Kind)

	status, res = env.do(t, http.MethodPost, "/checkout", buyer,
		map[string]any{"shippingAddress": shippingAddress, "paymentMethod": "cash"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.KindValidation, res.Kind)

	status, res = env.do(t, http.MethodPost, "/checkout", buyer,
		map[string]any{"shippingAddress": shippingAddress, "paymentMethod": "gcash", "discount": 100})
	assert.Equal(t, http.StatusBadRequest, status, "unknown fields are rejected")
	assert.Equal(t, apperr.KindValidation, res.Kind)

	env.gateway.Err = payment.ErrTimeout
	status, res = env.do(t, http.MethodPost, "/checkout", buyer,
		map[string]any{"shippingAddress": shippingAddress, "paymentMethod": "gcash"})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, apperr.KindPaymentTimeout, res.Kind)
}

// ============================================
// Authorization Tests
// ============================================

func TestAPI_Authorization(t *testing.T) {
	env := newAPIEnv(t)
	buyer := env.token(t, "user-1", auth.RoleCustomer)

	status, res := env.do(t, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindUnauthorized, res.Kind)

	status, res = env.do(t, http.MethodPost, "/admin/wallets/user-1/credit", buyer, map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperr.KindForbidden, res.Kind)

	status, _ = env.do(t, http.MethodPatch, "/orders/o-1/status", buyer, map[string]any{"status": "shipped"})
	assert.Equal(t, http.StatusForbidden, status)

	status, res = env.do(t, http.MethodGet, "/cart", buyer, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, res.Success)
}

// ============================================
// Order Lifecycle Tests
// ============================================

func TestAPI_StatusAndTracking(t *testing.T) {
	env := newAPIEnv(t)
	id := env.seedProduct(t)
	buyer := env.token(t, "user-1", auth.RoleCustomer)
	admin := env.token(t, "admin-1", auth.RoleAdmin)
	provider := env.token(t, "prov-1", auth.RoleProvider)

	env.do(t, http.MethodPost, "/cart/items", buyer, map[string]any{"productId": id, "quantity": 1})
	status, res := env.do(t, http.MethodPost, "/checkout", buyer,
		map[string]any{"shippingAddress": shippingAddress, "paymentMethod": "gcash"})
	require.Equal(t, http.StatusCreated, status, res.Error)
	var placed order.Order
	require.NoError(t, json.Unmarshal(res.Data, &placed))

	status, _ = env.do(t, http.MethodPatch, "/orders/"+placed.ID+"/status", admin, map[string]any{"status": "processing"})
	require.Equal(t, http.StatusOK, status)

	status, res = env.do(t, http.MethodPatch, "/orders/"+placed.ID+"/status", admin, map[string]any{"status": "pending"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperr.KindInvalidStatusTransition, res.Kind)

	status, _ = env.do(t, http.MethodPost, "/orders/"+placed.ID+"/tracking", provider,
		map[string]any{"status": "packed", "location": "Mandaue warehouse"})
	require.Equal(t, http.StatusCreated, status)

	status, res = env.do(t, http.MethodGet, "/orders/"+placed.ID+"/tracking", buyer, nil)
	require.Equal(t, http.StatusOK, status)
	var tl tracking.Timeline
	require.NoError(t, json.Unmarshal(res.Data, &tl))
	assert.Equal(t, "packed", tl.CurrentPhase)
	assert.Len(t, tl.Events, 1)
}

// ============================================
// Payment Webhook Tests
// ============================================

func TestAPI_PaymentWebhook(t *testing.T) {
	env := newAPIEnv(t)
	id := env.seedProduct(t)
	buyer := env.token(t, "user-1", auth.RoleCustomer)
	env.gateway.Result = payment.ChargeResult{Success: true, TransactionID: "gw-77", Status: payment.StatusPending}

	env.do(t, http.MethodPost, "/cart/items", buyer, map[string]any{"productId": id, "quantity": 1})
	status, res := env.do(t, http.MethodPost, "/checkout", buyer,
		map[string]any{"shippingAddress": shippingAddress, "paymentMethod": "paypal"})
	require.Equal(t, http.StatusCreated, status, res.Error)
	var placed order.Order
	require.NoError(t, json.Unmarshal(res.Data, &placed))
	require.Equal(t, order.StatusPending, placed.Status)

	body, err := json.Marshal(payment.Notification{OrderID: placed.ID, TransactionID: "gw-77", Status: payment.StatusCaptured})
	require.NoError(t, err)

	status, res = env.do(t, http.MethodPost, "/payments/webhook", "", json.RawMessage(body),
		payment.SignatureHeader, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, res.Success)
	assert.Equal(t, apperr.KindUnauthorized, res.Kind)

	status, res = env.do(t, http.MethodPost, "/payments/webhook", "", json.RawMessage(body),
		payment.SignatureHeader, payment.Sign(webhookSecret, append(body, '\n')))
	require.Equal(t, http.StatusOK, status, res.Error)
	var updated order.Order
	require.NoError(t, json.Unmarshal(res.Data, &updated))
	assert.Equal(t, order.StatusConfirmed, updated.Status)
	assert.Equal(t, order.PaymentPaid, updated.Payment.Status)
}

func TestAPI_UpdateCartItem_ZeroQuantityRejected(t *testing.T) {
	env := newAPIEnv(t)
	id := env.seedProduct(t)
	buyer := env.token(t, "user-1", auth.RoleCustomer)
	env.do(t, http.MethodPost, "/cart/items", buyer, map[string]any{"productId": id, "quantity": 2})

	status, res := env.do(t, http.MethodPut, "/cart/items/"+id, buyer, map[string]any{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperr.KindValidation, res.Kind)

	status, res = env.do(t, http.MethodGet, "/cart", buyer, nil)
	require.Equal(t, http.StatusOK, status)
	var c struct {
		Items []json.RawMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &c))
	assert.Len(t, c.Items, 1)
}

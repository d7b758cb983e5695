package api

import (
	"net/http"
	"time"

	"github.com/example/supply-marketplace/internal/api/middleware"
	"github.com/example/supply-marketplace/internal/auth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

func NewRouter(h *Handlers, jwtService *auth.JWTService, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, middleware.RequestLogger(logger.Named("http")), chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Gateway callbacks authenticate with the HMAC signature, not a JWT.
	r.Post("/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuthMiddleware(jwtService))
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Post("/items", h.AddToCart)
			r.Put("/items/{productId}", h.UpdateCartItem)
			r.Delete("/items/{productId}", h.RemoveFromCart)
			r.Post("/validate", h.ValidateCart)
		})

		r.Post("/checkout", h.Checkout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Get("/{id}", h.GetOrder)
			r.Get("/{id}/tracking", h.GetTrackingTimeline)

			r.With(middleware.RequireRole(auth.RoleAdmin)).Patch("/{id}/status", h.UpdateOrderStatus)
			r.With(middleware.RequireRole(auth.RoleAdmin, auth.RoleProvider)).Post("/{id}/tracking", h.AppendTrackingEvent)
		})

		r.Get("/wallet", h.GetWallet)
		r.Get("/wallet/summary", h.GetWalletSummary)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin))
			r.Post("/wallets/{userId}/credit", h.CreditWallet)
		})
	})

	return r
}

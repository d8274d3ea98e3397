package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/digibite-marketplace/internal/middleware"
	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware маркетплейса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger, h.opts.Metrics))

	r.Method(http.MethodGet, "/metrics", h.opts.Metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/midtrans", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.GetCart)
				r.Delete("/", h.ClearCart)
				r.Post("/items", h.AddCartItem)
				r.Put("/items/{productID}", h.UpdateCartItem)
				r.Post("/checkout", h.CheckoutCart)
			})

			r.Post("/checkout", h.Checkout)
			r.Get("/events", h.UserEvents)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/active", h.GetActiveOrders)
				r.Get("/history", h.GetOrderHistory)
				r.Get("/pending", h.GetPendingOrder)

				r.Route("/{orderID}", func(r chi.Router) {
					r.Get("/", h.GetOrder)
					r.Get("/events", h.OrderEvents)
					r.Post("/payment", h.ResumePayment)
					r.Put("/payment-method", h.ChangePaymentMethod)
					r.Post("/cancel", h.CancelOrder)
					r.Put("/status", h.UpdateOrderStatus)
				})
			})

			r.Route("/seller", func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleSeller))

				r.Get("/orders", h.GetTenantOrders)
				r.Get("/stats", h.GetSellerStats)
				r.Get("/balance", h.GetBalance)
				r.Get("/withdrawals", h.GetWithdrawals)
				r.Post("/withdrawals", h.Withdraw)
				r.Get("/events", h.TenantEvents)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(custommiddleware.RequireRole(model.RoleAdmin))

				r.Get("/withdrawals", h.GetWithdrawals)
				r.Get("/withdrawals/counts", h.GetWithdrawalCounts)
				r.Post("/withdrawals/{withdrawalID}/approve", h.ApproveWithdrawal)
				r.Post("/withdrawals/{withdrawalID}/reject", h.RejectWithdrawal)
				r.Get("/tenants/{tenantID}/orders", h.GetTenantOrders)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

// internal/api/router.go
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"propflow-wallet/internal/api/handler"
)

// NewRouter sets up and returns a new HTTP router.
func NewRouter(walletHandler *handler.WalletHandler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(handler.DefaultTimeout))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Wallet API routes
	r.Route("/wallet", func(r chi.Router) {
		r.Get("/", walletHandler.GetWallet)
		r.Post("/refresh", walletHandler.Refresh)
		r.Post("/deposits", walletHandler.Deposit)
		r.Post("/withdrawals", walletHandler.Withdraw)
		r.Get("/transactions", walletHandler.GetTransactions)

		r.Route("/escrows", func(r chi.Router) {
			r.Get("/", walletHandler.GetEscrows)
			r.Post("/", walletHandler.CreateEscrow)
			r.Post("/{escrowID}/approve", walletHandler.ApproveEscrow)
			r.Post("/{escrowID}/release", walletHandler.ReleaseEscrow)
			r.Post("/{escrowID}/refund", walletHandler.RefundEscrow)
		})

		r.Route("/payment-methods", func(r chi.Router) {
			r.Get("/", walletHandler.GetPaymentMethods)
			r.Post("/", walletHandler.AddPaymentMethod)
			r.Delete("/{methodID}", walletHandler.RemovePaymentMethod)
			r.Post("/{methodID}/default", walletHandler.SetDefaultPaymentMethod)
		})
	})

	return r
}

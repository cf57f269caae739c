// internal/api/handler/wallet.go
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"propflow-wallet/internal/api/types"
	"propflow-wallet/internal/domain"
	"propflow-wallet/internal/ledger"
	"propflow-wallet/internal/util" // For custom errors
)

// DefaultTimeout bounds request handling, including the gateway round-trip.
const DefaultTimeout = 30 * time.Second

// userIDHeader carries the caller identity supplied by the identity layer.
const userIDHeader = "X-User-ID"

// WalletHandler handles HTTP requests against the ledger store.
type WalletHandler struct {
	store  *ledger.Store
	logger *slog.Logger
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(store *ledger.Store, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{
		store:  store,
		logger: logger,
	}
}

// Helper function to send JSON responses.
func (h *WalletHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// Helper function to send error responses.
func (h *WalletHandler) respondWithError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case util.IsError(err, util.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		message = err.Error()
	case util.IsError(err, util.ErrNotFound),
		util.IsError(err, util.ErrEscrowNotFound),
		util.IsError(err, util.ErrPaymentMethodNotFound):
		statusCode = http.StatusNotFound
		message = err.Error()
	case util.IsError(err, util.ErrInsufficientFunds):
		statusCode = http.StatusPaymentRequired // 402 Payment Required
		message = "Insufficient funds"
	case util.IsError(err, util.ErrIllegalTransition):
		statusCode = http.StatusConflict
		message = err.Error()
	case util.IsError(err, util.ErrBackendFailure):
		statusCode = http.StatusBadGateway
		message = "Payment backend unavailable"
	default:
		h.logger.Error("Unhandled ledger error", "error", err)
	}

	h.respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// GetWallet handles the wallet overview request.
// GET /wallet
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"balance":        h.store.Balance(),
		"escrow_balance": h.store.EscrowBalance(),
		"is_loading":     h.store.IsLoading(),
	})
}

// Refresh reloads the wallet state from the snapshot store.
// POST /wallet/refresh
func (h *WalletHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Refresh(r.Context()); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Wallet refreshed"})
}

// FundsRequest represents the request body for deposits and withdrawals.
type FundsRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethodID string          `json:"payment_method_id"`
}

// Deposit handles the add funds request.
// POST /wallet/deposits
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req FundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, util.ErrInvalidInput)
		return
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() || req.PaymentMethodID == "" {
		h.respondWithError(w, util.ErrInvalidInput)
		return
	}

	tx, err := h.store.AddFunds(r.Context(), req.Amount, req.PaymentMethodID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Deposit successful",
		"new_balance":    h.store.Balance(),
		"transaction_id": tx.ID,
	})
}

// Withdraw handles the withdraw funds request.
// POST /wallet/withdrawals
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req FundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, util.ErrInvalidInput)
		return
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() || req.PaymentMethodID == "" {
		h.respondWithError(w, util.ErrInvalidInput)
		return
	}

	tx, err := h.store.WithdrawFunds(r.Context(), req.Amount, req.PaymentMethodID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Withdrawal successful",
		"new_balance":    h.store.Balance(),
		"transaction_id": tx.ID,
	})
}

// GetTransactions handles the transaction history request, newest first.
// GET /wallet/transactions
func (h *WalletHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	all := h.store.Transactions()

	h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[domain.Transaction]{
		Data:       paginate(all, limit, offset),
		Limit:      limit,
		Offset:     offset,
		TotalCount: len(all),
	})
}

// CreateEscrowRequest represents the request body for initiating a purchase.
// Property details come from the catalog; the buyer comes from the identity
// header.
type CreateEscrowRequest struct {
	PropertyID    string          `json:"property_id"`
	PropertyTitle string          `json:"property_title"`
	Amount        decimal.Decimal `json:"amount"`
	SellerID      string          `json:"seller_id"`
}

// CreateEscrow handles the escrow creation request.
// POST /wallet/escrows
func (h *WalletHandler) CreateEscrow(w http.ResponseWriter, r *http.Request) {
	buyerID := r.Header.Get(userIDHeader)
	if buyerID == "" {
		h.respondWithError(w, util.ErrInvalidInput)
		return
	}

	var req CreateEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, util.ErrInvalidInput)
		return
	}
	if req.Amount.IsNegative() || req.Amount.IsZero() || req.PropertyID == "" || req.SellerID == "" {
		h.respondWithError(w, util.ErrInvalidInput)
		return
	}

	escrow, err := h.store.CreateEscrow(r.Context(), buyerID, req.PropertyID, req.PropertyTitle, req.Amount, req.SellerID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message":        "Escrow created",
		"escrow":         escrow,
		"new_balance":    h.store.Balance(),
		"escrow_balance": h.store.EscrowBalance(),
	})
}

// GetEscrows handles the escrow record listing request, newest first.
// GET /wallet/escrows
func (h *WalletHandler) GetEscrows(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"data": h.store.EscrowTransactions(),
	})
}

// ApproveEscrow handles the pending -> approved transition.
// POST /wallet/escrows/{escrowID}/approve
func (h *WalletHandler) ApproveEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.store.ApproveEscrow(r.Context(), chi.URLParam(r, "escrowID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Escrow approved",
		"escrow":  escrow,
	})
}

// ReleaseEscrow handles the approved -> released transition.
// POST /wallet/escrows/{escrowID}/release
func (h *WalletHandler) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.store.ReleaseEscrow(r.Context(), chi.URLParam(r, "escrowID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Escrow released",
		"escrow":         escrow,
		"escrow_balance": h.store.EscrowBalance(),
	})
}

// RefundEscrow handles the pending/approved -> refunded transition.
// POST /wallet/escrows/{escrowID}/refund
func (h *WalletHandler) RefundEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.store.RefundEscrow(r.Context(), chi.URLParam(r, "escrowID"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":        "Escrow refunded",
		"escrow":         escrow,
		"new_balance":    h.store.Balance(),
		"escrow_balance": h.store.EscrowBalance(),
	})
}

// GetPaymentMethods handles the stored payment method listing request.
// GET /wallet/payment-methods
func (h *WalletHandler) GetPaymentMethods(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"data": h.store.PaymentMethods(),
	})
}

// AddPaymentMethod handles the add payment method request.
// POST /wallet/payment-methods
func (h *WalletHandler) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var method domain.PaymentMethod
	if err := json.NewDecoder(r.Body).Decode(&method); err != nil {
		h.respondWithError(w, util.ErrInvalidInput)
		return
	}

	stored, err := h.store.AddPaymentMethod(r.Context(), method)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusCreated, stored)
}

// RemovePaymentMethod handles the remove payment method request.
// DELETE /wallet/payment-methods/{methodID}
func (h *WalletHandler) RemovePaymentMethod(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemovePaymentMethod(r.Context(), chi.URLParam(r, "methodID")); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Payment method removed"})
}

// SetDefaultPaymentMethod handles the set default payment method request.
// POST /wallet/payment-methods/{methodID}/default
func (h *WalletHandler) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetDefaultPaymentMethod(r.Context(), chi.URLParam(r, "methodID")); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Default payment method updated"})
}

// parsePagination reads limit/offset query parameters with defaults.
func parsePagination(r *http.Request) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10 // Default limit
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0 // Default offset
	}
	return limit, offset
}

func paginate(list []domain.Transaction, limit, offset int) []domain.Transaction {
	if offset >= len(list) {
		return []domain.Transaction{}
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	return list[offset:end]
}

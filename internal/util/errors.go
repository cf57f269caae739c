// internal/util/errors.go
package util

import "errors"

// Common application-specific errors. Every ledger operation reports failure
// through one of these sentinels so callers can map the error kind to a
// user-facing message or HTTP status.
var (
	ErrNotFound              = errors.New("resource not found")
	ErrInvalidInput          = errors.New("invalid input provided")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrEscrowNotFound        = errors.New("escrow not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrIllegalTransition     = errors.New("illegal escrow state transition")
	ErrBackendFailure        = errors.New("payment backend failure")
	ErrSchemaVersionMismatch = errors.New("snapshot schema version mismatch")
)

// IsError reports whether err matches the target sentinel anywhere in its chain.
func IsError(err, target error) bool {
	return errors.Is(err, target)
}

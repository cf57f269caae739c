// internal/ledger/store.go
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"propflow-wallet/internal/domain"
	"propflow-wallet/internal/gateway"
	"propflow-wallet/internal/repository"
	"propflow-wallet/internal/util"
)

// Store is the escrow-mediated transaction ledger: spendable balance, escrow
// balance, append-only transaction history, escrow records and stored payment
// methods, owned by a single mutex so concurrent operations cannot pass a
// funds guard against stale state.
//
// Every money-moving operation follows the same shape: validate input, fail
// fast on guards against current state, perform the gateway round-trip, then
// re-check the guards and commit under the mutex. A commit mutates a clone of
// the state and swaps it in only after the snapshot repository accepted it,
// so an operation either fully applies or leaves the ledger untouched.
type Store struct {
	logger      *slog.Logger
	gateway     gateway.PaymentGateway
	snapshots   repository.SnapshotRepository
	seedBalance decimal.Decimal

	inFlight atomic.Int64

	mu    sync.Mutex
	state *domain.WalletSnapshot
}

// NewStore creates a ledger store. Call Refresh to hydrate it from the
// snapshot repository before serving reads.
func NewStore(gw gateway.PaymentGateway, snapshots repository.SnapshotRepository, seedBalance decimal.Decimal, logger *slog.Logger) *Store {
	return &Store{
		logger:      logger,
		gateway:     gw,
		snapshots:   snapshots,
		seedBalance: seedBalance,
		state:       domain.NewWalletSnapshot(decimal.Zero),
	}
}

// begin and end track in-flight operations for the IsLoading projection.
func (s *Store) begin() { s.inFlight.Add(1) }
func (s *Store) end()   { s.inFlight.Add(-1) }

// roundTrip performs the remote leg of an operation through the gateway.
func (s *Store) roundTrip(ctx context.Context, op gateway.Operation) error {
	if err := s.gateway.Process(ctx, op); err != nil {
		s.logger.Error("Gateway round-trip failed", "op", string(op), "error", err)
		return fmt.Errorf("%w: %v", util.ErrBackendFailure, err)
	}
	return nil
}

// commit applies mutate to a clone of the current state, persists the result
// and swaps it in. Guard checks inside mutate run against current state, not
// the state observed before the gateway round-trip.
func (s *Store) commit(ctx context.Context, mutate func(next *domain.WalletSnapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	if err := s.snapshots.Save(ctx, next); err != nil {
		s.logger.Error("Failed to persist wallet snapshot", "error", err)
		return fmt.Errorf("persist wallet snapshot: %w", err)
	}
	s.state = next
	return nil
}

// Refresh loads the wallet state from the snapshot repository, replacing the
// in-memory state. A wallet that has never been persisted is seeded with the
// configured opening balance.
func (s *Store) Refresh(ctx context.Context) error {
	s.begin()
	defer s.end()

	// The mutex is held across load-and-swap: a commit landing between the
	// repository read and the swap would otherwise be overwritten by the
	// stale snapshot and lost on the next persist.
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.snapshots.Load(ctx)
	if err != nil {
		if util.IsError(err, util.ErrNotFound) {
			seeded := domain.NewWalletSnapshot(s.seedBalance)
			if err := s.snapshots.Save(ctx, seeded); err != nil {
				return fmt.Errorf("seed wallet snapshot: %w", err)
			}
			s.state = seeded
			s.logger.Info("Seeded new wallet", "balance", s.seedBalance.String())
			return nil
		}
		s.logger.Error("Failed to refresh wallet", "error", err)
		return fmt.Errorf("refresh wallet: %w", err)
	}

	s.state = snapshot
	return nil
}

// AddFunds credits the spendable balance and appends a deposit transaction.
func (s *Store) AddFunds(ctx context.Context, amount decimal.Decimal, paymentMethodID string) (*domain.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, util.ErrInvalidInput
	}
	if err := s.checkMethod(paymentMethodID); err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	if err := s.roundTrip(ctx, gateway.OpDeposit); err != nil {
		return nil, err
	}

	var tx domain.Transaction
	err := s.commit(ctx, func(next *domain.WalletSnapshot) error {
		label, err := methodLabel(next.PaymentMethods, paymentMethodID)
		if err != nil {
			return err
		}
		tx = domain.NewTransaction(domain.TransactionTypeDeposit, amount, "Wallet funding via "+label)
		next.Balance = next.Balance.Add(amount)
		next.Transactions = prependTransaction(next.Transactions, tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// WithdrawFunds debits the spendable balance and appends a withdrawal
// transaction. It fails with ErrInsufficientFunds when the amount exceeds the
// balance at commit time.
func (s *Store) WithdrawFunds(ctx context.Context, amount decimal.Decimal, paymentMethodID string) (*domain.Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, util.ErrInvalidInput
	}
	if err := s.checkFunds(amount); err != nil {
		return nil, err
	}
	if err := s.checkMethod(paymentMethodID); err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	if err := s.roundTrip(ctx, gateway.OpWithdrawal); err != nil {
		return nil, err
	}

	var tx domain.Transaction
	err := s.commit(ctx, func(next *domain.WalletSnapshot) error {
		if next.Balance.LessThan(amount) {
			return util.ErrInsufficientFunds
		}
		label, err := methodLabel(next.PaymentMethods, paymentMethodID)
		if err != nil {
			return err
		}
		tx = domain.NewTransaction(domain.TransactionTypeWithdrawal, amount, "Withdrawal to "+label)
		next.Balance = next.Balance.Sub(amount)
		next.Transactions = prependTransaction(next.Transactions, tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// CreateEscrow moves the purchase amount from the spendable balance into
// escrow, creating the pending escrow record and its escrow_hold ledger entry
// as one commit.
func (s *Store) CreateEscrow(ctx context.Context, buyerID, propertyID, propertyTitle string, amount decimal.Decimal, sellerID string) (*domain.EscrowTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) || buyerID == "" || propertyID == "" || sellerID == "" {
		return nil, util.ErrInvalidInput
	}
	if err := s.checkFunds(amount); err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	if err := s.roundTrip(ctx, gateway.OpEscrowCreate); err != nil {
		return nil, err
	}

	var escrow domain.EscrowTransaction
	err := s.commit(ctx, func(next *domain.WalletSnapshot) error {
		if next.Balance.LessThan(amount) {
			return util.ErrInsufficientFunds
		}
		escrow = domain.NewEscrowTransaction(propertyID, propertyTitle, buyerID, sellerID, amount)
		tx := domain.NewPropertyTransaction(domain.TransactionTypeEscrowHold, amount,
			"Escrow hold for "+propertyTitle, propertyID, propertyTitle)
		next.Balance = next.Balance.Sub(amount)
		next.EscrowBalance = next.EscrowBalance.Add(amount)
		next.EscrowTransactions = append([]domain.EscrowTransaction{escrow}, next.EscrowTransactions...)
		next.Transactions = prependTransaction(next.Transactions, tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// ApproveEscrow moves a pending escrow to approved. Balances are unchanged.
func (s *Store) ApproveEscrow(ctx context.Context, escrowID string) (*domain.EscrowTransaction, error) {
	if err := s.checkTransition(escrowID, domain.EscrowStatusApproved); err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	if err := s.roundTrip(ctx, gateway.OpEscrowApprove); err != nil {
		return nil, err
	}

	var escrow domain.EscrowTransaction
	err := s.commit(ctx, func(next *domain.WalletSnapshot) error {
		i, err := findTransition(next, escrowID, domain.EscrowStatusApproved)
		if err != nil {
			return err
		}
		now := nowUTC()
		next.EscrowTransactions[i].Status = domain.EscrowStatusApproved
		next.EscrowTransactions[i].ApprovedAt = &now
		escrow = next.EscrowTransactions[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// ReleaseEscrow closes an approved escrow in the seller's favor: the held
// amount leaves the escrow balance and the modeled system entirely, it is not
// returned to the spendable balance.
func (s *Store) ReleaseEscrow(ctx context.Context, escrowID string) (*domain.EscrowTransaction, error) {
	if err := s.checkTransition(escrowID, domain.EscrowStatusReleased); err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	if err := s.roundTrip(ctx, gateway.OpEscrowRelease); err != nil {
		return nil, err
	}

	var escrow domain.EscrowTransaction
	err := s.commit(ctx, func(next *domain.WalletSnapshot) error {
		i, err := findTransition(next, escrowID, domain.EscrowStatusReleased)
		if err != nil {
			return err
		}
		now := nowUTC()
		next.EscrowTransactions[i].Status = domain.EscrowStatusReleased
		next.EscrowTransactions[i].ReleasedAt = &now
		escrow = next.EscrowTransactions[i]

		tx := domain.NewPropertyTransaction(domain.TransactionTypeEscrowRelease, escrow.Amount,
			"Escrow released for "+escrow.PropertyTitle, escrow.PropertyID, escrow.PropertyTitle)
		next.EscrowBalance = next.EscrowBalance.Sub(escrow.Amount)
		next.Transactions = prependTransaction(next.Transactions, tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// RefundEscrow closes a pending or approved escrow in the buyer's favor,
// returning the held amount to the spendable balance.
func (s *Store) RefundEscrow(ctx context.Context, escrowID string) (*domain.EscrowTransaction, error) {
	if err := s.checkTransition(escrowID, domain.EscrowStatusRefunded); err != nil {
		return nil, err
	}

	s.begin()
	defer s.end()

	if err := s.roundTrip(ctx, gateway.OpEscrowRefund); err != nil {
		return nil, err
	}

	var escrow domain.EscrowTransaction
	err := s.commit(ctx, func(next *domain.WalletSnapshot) error {
		i, err := findTransition(next, escrowID, domain.EscrowStatusRefunded)
		if err != nil {
			return err
		}
		now := nowUTC()
		next.EscrowTransactions[i].Status = domain.EscrowStatusRefunded
		next.EscrowTransactions[i].RefundedAt = &now
		escrow = next.EscrowTransactions[i]

		tx := domain.NewPropertyTransaction(domain.TransactionTypeRefund, escrow.Amount,
			"Refund for "+escrow.PropertyTitle, escrow.PropertyID, escrow.PropertyTitle)
		next.Balance = next.Balance.Add(escrow.Amount)
		next.EscrowBalance = next.EscrowBalance.Sub(escrow.Amount)
		next.Transactions = prependTransaction(next.Transactions, tx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &escrow, nil
}

// AddPaymentMethod stores a new payment instrument. The first stored method
// becomes the default; an explicitly default method displaces the previous one.
func (s *Store) AddPaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error) {
	if method.Type != domain.PaymentMethodTypeCard && method.Type != domain.PaymentMethodTypeBankTransfer {
		return nil, util.ErrInvalidInput
	}
	if method.ID == "" {
		method.ID = uuid.NewString()
	}

	s.begin()
	defer s.end()

	err := s.commit(ctx, func(next *domain.WalletSnapshot) error {
		if len(next.PaymentMethods) == 0 {
			method.IsDefault = true
		}
		if method.IsDefault {
			for i := range next.PaymentMethods {
				next.PaymentMethods[i].IsDefault = false
			}
		}
		next.PaymentMethods = append(next.PaymentMethods, method)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &method, nil
}

// RemovePaymentMethod deletes a stored payment instrument.
func (s *Store) RemovePaymentMethod(ctx context.Context, id string) error {
	s.begin()
	defer s.end()

	return s.commit(ctx, func(next *domain.WalletSnapshot) error {
		for i := range next.PaymentMethods {
			if next.PaymentMethods[i].ID == id {
				next.PaymentMethods = append(next.PaymentMethods[:i], next.PaymentMethods[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("payment method %s: %w", id, util.ErrPaymentMethodNotFound)
	})
}

// SetDefaultPaymentMethod marks one stored method as default, clearing the
// flag on all others in the same commit so at most one default ever exists.
func (s *Store) SetDefaultPaymentMethod(ctx context.Context, id string) error {
	s.begin()
	defer s.end()

	return s.commit(ctx, func(next *domain.WalletSnapshot) error {
		found := false
		for i := range next.PaymentMethods {
			isTarget := next.PaymentMethods[i].ID == id
			next.PaymentMethods[i].IsDefault = isTarget
			found = found || isTarget
		}
		if !found {
			return fmt.Errorf("payment method %s: %w", id, util.ErrPaymentMethodNotFound)
		}
		return nil
	})
}

// checkFunds fails fast when amount exceeds the current balance, before the
// gateway round-trip is paid for. The commit path re-checks under the mutex.
func (s *Store) checkFunds(amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Balance.LessThan(amount) {
		return util.ErrInsufficientFunds
	}
	return nil
}

// checkMethod fails fast on an unknown payment method.
func (s *Store) checkMethod(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := methodLabel(s.state.PaymentMethods, id)
	return err
}

// checkTransition fails fast on a missing escrow or illegal transition.
func (s *Store) checkTransition(escrowID string, to domain.EscrowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := findTransition(s.state, escrowID, to)
	return err
}

// Balance returns the current spendable balance.
func (s *Store) Balance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Balance
}

// EscrowBalance returns the total amount currently held in escrow.
func (s *Store) EscrowBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.EscrowBalance
}

// Transactions returns the ledger history, newest first.
func (s *Store) Transactions() []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Transaction, len(s.state.Transactions))
	copy(out, s.state.Transactions)
	return out
}

// EscrowTransactions returns the escrow records, newest first.
func (s *Store) EscrowTransactions() []domain.EscrowTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EscrowTransaction, len(s.state.EscrowTransactions))
	copy(out, s.state.EscrowTransactions)
	return out
}

// PaymentMethods returns the stored payment instruments.
func (s *Store) PaymentMethods() []domain.PaymentMethod {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PaymentMethod, len(s.state.PaymentMethods))
	copy(out, s.state.PaymentMethods)
	return out
}

// IsLoading reports whether any operation is currently in flight.
func (s *Store) IsLoading() bool {
	return s.inFlight.Load() > 0
}

// findTransition locates an escrow by id and validates the requested status
// transition, returning the record's index.
func findTransition(snap *domain.WalletSnapshot, escrowID string, to domain.EscrowStatus) (int, error) {
	for i := range snap.EscrowTransactions {
		if snap.EscrowTransactions[i].ID == escrowID {
			from := snap.EscrowTransactions[i].Status
			if !domain.CanTransition(from, to) {
				return -1, fmt.Errorf("escrow %s: %s -> %s: %w", escrowID, from, to, util.ErrIllegalTransition)
			}
			return i, nil
		}
	}
	return -1, fmt.Errorf("escrow %s: %w", escrowID, util.ErrEscrowNotFound)
}

// methodLabel resolves the display label of a stored payment method.
func methodLabel(methods []domain.PaymentMethod, id string) (string, error) {
	for _, m := range methods {
		if m.ID == id {
			return m.Label(), nil
		}
	}
	return "", fmt.Errorf("payment method %s: %w", id, util.ErrPaymentMethodNotFound)
}

func prependTransaction(list []domain.Transaction, tx domain.Transaction) []domain.Transaction {
	return append([]domain.Transaction{tx}, list...)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// internal/ledger/store_test.go
package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"propflow-wallet/internal/domain"
	"propflow-wallet/internal/gateway"
	"propflow-wallet/internal/util"
)

// MockPaymentGateway is a mock implementation of gateway.PaymentGateway.
type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) Process(ctx context.Context, op gateway.Operation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

// MockSnapshotRepository is a mock implementation of repository.SnapshotRepository.
type MockSnapshotRepository struct {
	mock.Mock
}

func (m *MockSnapshotRepository) Load(ctx context.Context) (*domain.WalletSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.WalletSnapshot), args.Error(1)
}

func (m *MockSnapshotRepository) Save(ctx context.Context, snapshot *domain.WalletSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

// testCard is the payment method most tests fund and withdraw through.
var testCard = domain.PaymentMethod{
	ID:        "pm1",
	Type:      domain.PaymentMethodTypeCard,
	Last4:     "4242",
	Brand:     "Visa",
	IsDefault: true,
}

func testSnapshot(balance string) *domain.WalletSnapshot {
	snap := domain.NewWalletSnapshot(decimal.RequireFromString(balance))
	snap.PaymentMethods = []domain.PaymentMethod{testCard}
	return snap
}

// newTestStore builds a store hydrated from the given snapshot.
func newTestStore(t *testing.T, snap *domain.WalletSnapshot) (*Store, *MockPaymentGateway, *MockSnapshotRepository) {
	t.Helper()
	gw := new(MockPaymentGateway)
	repo := new(MockSnapshotRepository)
	repo.On("Load", mock.Anything).Return(snap, nil).Once()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStore(gw, repo, decimal.Zero, logger)
	require.NoError(t, store.Refresh(context.Background()))
	return store, gw, repo
}

func TestAddFunds(t *testing.T) {
	ctx := context.Background()
	amount := decimal.RequireFromString("500")

	t.Run("SuccessfulDeposit", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("5000"))
		gw.On("Process", mock.Anything, gateway.OpDeposit).Return(nil).Once()
		repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

		tx, err := store.AddFunds(ctx, amount, "pm1")

		require.NoError(t, err)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("5500")))
		assert.Equal(t, domain.TransactionTypeDeposit, tx.Type)
		assert.True(t, tx.Amount.Equal(amount))
		assert.Equal(t, "Wallet funding via Credit Card", tx.Description)
		assert.Equal(t, domain.TransactionStatusCompleted, tx.Status)
		assert.False(t, tx.CompletedAt.Before(tx.CreatedAt))

		history := store.Transactions()
		require.Len(t, history, 1)
		assert.Equal(t, tx.ID, history[0].ID)
		mock.AssertExpectationsForObjects(t, gw, repo)
	})

	t.Run("BankTransferLabel", func(t *testing.T) {
		snap := testSnapshot("1000")
		snap.PaymentMethods = append(snap.PaymentMethods, domain.PaymentMethod{
			ID:       "pm2",
			Type:     domain.PaymentMethodTypeBankTransfer,
			BankName: "First National",
		})
		store, gw, repo := newTestStore(t, snap)
		gw.On("Process", mock.Anything, gateway.OpDeposit).Return(nil).Once()
		repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

		tx, err := store.AddFunds(ctx, amount, "pm2")

		require.NoError(t, err)
		assert.Equal(t, "Wallet funding via Bank Transfer", tx.Description)
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		store, gw, _ := newTestStore(t, testSnapshot("5000"))

		_, err := store.AddFunds(ctx, decimal.Zero, "pm1")
		assert.ErrorIs(t, err, util.ErrInvalidInput)

		_, err = store.AddFunds(ctx, decimal.RequireFromString("-10"), "pm1")
		assert.ErrorIs(t, err, util.ErrInvalidInput)

		assert.True(t, store.Balance().Equal(decimal.RequireFromString("5000")))
		gw.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
	})

	t.Run("UnknownPaymentMethod", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("5000"))

		_, err := store.AddFunds(ctx, amount, "missing")

		assert.ErrorIs(t, err, util.ErrPaymentMethodNotFound)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("5000")))
		assert.Empty(t, store.Transactions())
		// The method guard fails before the gateway round-trip is started.
		gw.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("GatewayFailure", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("5000"))
		gw.On("Process", mock.Anything, gateway.OpDeposit).Return(errors.New("timeout")).Once()

		_, err := store.AddFunds(ctx, amount, "pm1")

		assert.ErrorIs(t, err, util.ErrBackendFailure)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("5000")))
		assert.Empty(t, store.Transactions())
		assert.False(t, store.IsLoading())
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("LoadingWhileInFlight", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("5000"))
		gw.On("Process", mock.Anything, gateway.OpDeposit).Run(func(args mock.Arguments) {
			assert.True(t, store.IsLoading())
		}).Return(nil).Once()
		repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

		_, err := store.AddFunds(ctx, amount, "pm1")
		require.NoError(t, err)
		assert.False(t, store.IsLoading())
	})
}

func TestWithdrawFunds(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessfulWithdrawal", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("5000"))
		gw.On("Process", mock.Anything, gateway.OpWithdrawal).Return(nil).Once()
		repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

		tx, err := store.WithdrawFunds(ctx, decimal.RequireFromString("1500"), "pm1")

		require.NoError(t, err)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("3500")))
		assert.Equal(t, domain.TransactionTypeWithdrawal, tx.Type)
		assert.Equal(t, "Withdrawal to Credit Card", tx.Description)
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("100"))

		_, err := store.WithdrawFunds(ctx, decimal.RequireFromString("101"), "pm1")

		assert.ErrorIs(t, err, util.ErrInsufficientFunds)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("100")))
		assert.Empty(t, store.Transactions())
		// The guard fails before the gateway round-trip is started.
		gw.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("UnknownPaymentMethod", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("5000"))

		_, err := store.WithdrawFunds(ctx, decimal.RequireFromString("100"), "missing")

		assert.ErrorIs(t, err, util.ErrPaymentMethodNotFound)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("5000")))
		assert.Empty(t, store.Transactions())
		gw.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("ExactBalanceAllowed", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("100"))
		gw.On("Process", mock.Anything, gateway.OpWithdrawal).Return(nil).Once()
		repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

		_, err := store.WithdrawFunds(ctx, decimal.RequireFromString("100"), "pm1")

		require.NoError(t, err)
		assert.True(t, store.Balance().IsZero())
	})
}

func TestCreateEscrow(t *testing.T) {
	ctx := context.Background()
	price := decimal.RequireFromString("450000")

	t.Run("SuccessfulEscrow", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("500000"))
		gw.On("Process", mock.Anything, gateway.OpEscrowCreate).Return(nil).Once()
		repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

		escrow, err := store.CreateEscrow(ctx, "buyer1", "p1", "Villa", price, "seller1")

		require.NoError(t, err)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("50000")))
		assert.True(t, store.EscrowBalance().Equal(price))
		assert.Equal(t, domain.EscrowStatusPending, escrow.Status)
		assert.Equal(t, "buyer1", escrow.BuyerID)
		assert.Equal(t, "seller1", escrow.SellerID)
		assert.True(t, escrow.Amount.Equal(price))
		assert.Nil(t, escrow.ApprovedAt)

		history := store.Transactions()
		require.Len(t, history, 1)
		assert.Equal(t, domain.TransactionTypeEscrowHold, history[0].Type)
		assert.Equal(t, "Escrow hold for Villa", history[0].Description)
		assert.Equal(t, "p1", history[0].PropertyID)
		assert.Equal(t, "Villa", history[0].PropertyTitle)

		require.Len(t, store.EscrowTransactions(), 1)
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		snap := testSnapshot("5000")
		snap.EscrowBalance = decimal.RequireFromString("450000")
		store, gw, repo := newTestStore(t, snap)

		_, err := store.CreateEscrow(ctx, "buyer1", "p1", "Villa", price, "seller1")

		assert.ErrorIs(t, err, util.ErrInsufficientFunds)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("5000")))
		assert.True(t, store.EscrowBalance().Equal(decimal.RequireFromString("450000")))
		assert.Empty(t, store.Transactions())
		assert.Empty(t, store.EscrowTransactions())
		gw.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("MissingParties", func(t *testing.T) {
		store, _, _ := newTestStore(t, testSnapshot("500000"))

		_, err := store.CreateEscrow(ctx, "", "p1", "Villa", price, "seller1")
		assert.ErrorIs(t, err, util.ErrInvalidInput)

		_, err = store.CreateEscrow(ctx, "buyer1", "p1", "Villa", price, "")
		assert.ErrorIs(t, err, util.ErrInvalidInput)
	})

	t.Run("PersistenceFailureLeavesStateUntouched", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("500000"))
		gw.On("Process", mock.Anything, gateway.OpEscrowCreate).Return(nil).Once()
		repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

		_, err := store.CreateEscrow(ctx, "buyer1", "p1", "Villa", price, "seller1")

		assert.Error(t, err)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("500000")))
		assert.True(t, store.EscrowBalance().IsZero())
		assert.Empty(t, store.Transactions())
		assert.Empty(t, store.EscrowTransactions())
	})
}

// createTestEscrow drives a store through CreateEscrow and returns the record.
func createTestEscrow(t *testing.T, store *Store, gw *MockPaymentGateway, repo *MockSnapshotRepository, amount string) *domain.EscrowTransaction {
	t.Helper()
	gw.On("Process", mock.Anything, mock.Anything).Return(nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)
	escrow, err := store.CreateEscrow(context.Background(), "buyer1", "p1", "Villa", decimal.RequireFromString(amount), "seller1")
	require.NoError(t, err)
	return escrow
}

func TestEscrowLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("ApproveThenRelease", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("500000"))
		escrow := createTestEscrow(t, store, gw, repo, "450000")

		approved, err := store.ApproveEscrow(ctx, escrow.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EscrowStatusApproved, approved.Status)
		require.NotNil(t, approved.ApprovedAt)
		// Approval moves no money.
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("50000")))
		assert.True(t, store.EscrowBalance().Equal(decimal.RequireFromString("450000")))
		require.Len(t, store.Transactions(), 1)

		released, err := store.ReleaseEscrow(ctx, escrow.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EscrowStatusReleased, released.Status)
		require.NotNil(t, released.ReleasedAt)
		// The held amount leaves escrow to the seller; the spendable balance
		// is unchanged.
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("50000")))
		assert.True(t, store.EscrowBalance().IsZero())

		history := store.Transactions()
		require.Len(t, history, 2)
		assert.Equal(t, domain.TransactionTypeEscrowRelease, history[0].Type)
		assert.Equal(t, "Escrow released for Villa", history[0].Description)
	})

	t.Run("RefundFromPending", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("500000"))
		escrow := createTestEscrow(t, store, gw, repo, "450000")

		refunded, err := store.RefundEscrow(ctx, escrow.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EscrowStatusRefunded, refunded.Status)
		require.NotNil(t, refunded.RefundedAt)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("500000")))
		assert.True(t, store.EscrowBalance().IsZero())

		history := store.Transactions()
		require.Len(t, history, 2)
		assert.Equal(t, domain.TransactionTypeRefund, history[0].Type)
		assert.Equal(t, "Refund for Villa", history[0].Description)
	})

	t.Run("RefundFromApproved", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("500000"))
		escrow := createTestEscrow(t, store, gw, repo, "450000")

		_, err := store.ApproveEscrow(ctx, escrow.ID)
		require.NoError(t, err)

		refunded, err := store.RefundEscrow(ctx, escrow.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EscrowStatusRefunded, refunded.Status)
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("500000")))
	})

	t.Run("ReleaseRequiresApproval", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("500000"))
		escrow := createTestEscrow(t, store, gw, repo, "450000")

		_, err := store.ReleaseEscrow(ctx, escrow.ID)

		assert.ErrorIs(t, err, util.ErrIllegalTransition)
		assert.Equal(t, domain.EscrowStatusPending, store.EscrowTransactions()[0].Status)
		assert.True(t, store.EscrowBalance().Equal(decimal.RequireFromString("450000")))
	})

	t.Run("TerminalStatesRejectFurtherOperations", func(t *testing.T) {
		store, gw, repo := newTestStore(t, testSnapshot("500000"))
		escrow := createTestEscrow(t, store, gw, repo, "450000")

		_, err := store.RefundEscrow(ctx, escrow.ID)
		require.NoError(t, err)

		_, err = store.ApproveEscrow(ctx, escrow.ID)
		assert.ErrorIs(t, err, util.ErrIllegalTransition)
		_, err = store.ReleaseEscrow(ctx, escrow.ID)
		assert.ErrorIs(t, err, util.ErrIllegalTransition)
		_, err = store.RefundEscrow(ctx, escrow.ID)
		assert.ErrorIs(t, err, util.ErrIllegalTransition)

		// The double refund must not credit the balance twice.
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("500000")))
		assert.True(t, store.EscrowBalance().IsZero())
	})

	t.Run("UnknownEscrowID", func(t *testing.T) {
		store, _, _ := newTestStore(t, testSnapshot("500000"))

		_, err := store.ApproveEscrow(ctx, "nope")
		assert.ErrorIs(t, err, util.ErrEscrowNotFound)
		_, err = store.ReleaseEscrow(ctx, "nope")
		assert.ErrorIs(t, err, util.ErrEscrowNotFound)
		_, err = store.RefundEscrow(ctx, "nope")
		assert.ErrorIs(t, err, util.ErrEscrowNotFound)
	})
}

func TestPaymentMethods(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstMethodBecomesDefault", func(t *testing.T) {
		snap := domain.NewWalletSnapshot(decimal.Zero)
		store, _, repo := newTestStore(t, snap)
		repo.On("Save", mock.Anything, mock.Anything).Return(nil)

		added, err := store.AddPaymentMethod(ctx, domain.PaymentMethod{Type: domain.PaymentMethodTypeCard, Last4: "1111"})
		require.NoError(t, err)
		assert.True(t, added.IsDefault)
		assert.NotEmpty(t, added.ID)
	})

	t.Run("SetDefaultIsExclusive", func(t *testing.T) {
		snap := domain.NewWalletSnapshot(decimal.Zero)
		snap.PaymentMethods = []domain.PaymentMethod{
			{ID: "pm1", Type: domain.PaymentMethodTypeCard, IsDefault: true},
			{ID: "pm2", Type: domain.PaymentMethodTypeBankTransfer},
			{ID: "pm3", Type: domain.PaymentMethodTypeCard},
		}
		store, _, repo := newTestStore(t, snap)
		repo.On("Save", mock.Anything, mock.Anything).Return(nil)

		require.NoError(t, store.SetDefaultPaymentMethod(ctx, "pm3"))

		defaults := 0
		for _, m := range store.PaymentMethods() {
			if m.IsDefault {
				defaults++
				assert.Equal(t, "pm3", m.ID)
			}
		}
		assert.Equal(t, 1, defaults)
	})

	t.Run("RemoveMethod", func(t *testing.T) {
		store, _, repo := newTestStore(t, testSnapshot("0"))
		repo.On("Save", mock.Anything, mock.Anything).Return(nil)

		require.NoError(t, store.RemovePaymentMethod(ctx, "pm1"))
		assert.Empty(t, store.PaymentMethods())

		err := store.RemovePaymentMethod(ctx, "pm1")
		assert.ErrorIs(t, err, util.ErrPaymentMethodNotFound)
	})

	t.Run("SetDefaultUnknownMethod", func(t *testing.T) {
		store, _, repo := newTestStore(t, testSnapshot("0"))

		err := store.SetDefaultPaymentMethod(ctx, "missing")
		assert.ErrorIs(t, err, util.ErrPaymentMethodNotFound)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		assert.True(t, store.PaymentMethods()[0].IsDefault)
	})
}

// TestConservation walks a full purchase flow and checks that the sum of the
// spendable and escrow balances only moves through deposits, withdrawals and
// releases, with exactly one ledger entry per committed operation.
func TestConservation(t *testing.T) {
	ctx := context.Background()
	store, gw, repo := newTestStore(t, testSnapshot("500000"))
	gw.On("Process", mock.Anything, mock.Anything).Return(nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	total := func() decimal.Decimal { return store.Balance().Add(store.EscrowBalance()) }

	require.True(t, total().Equal(decimal.RequireFromString("500000")))

	_, err := store.AddFunds(ctx, decimal.RequireFromString("1000"), "pm1")
	require.NoError(t, err)
	assert.True(t, total().Equal(decimal.RequireFromString("501000")))
	assert.Len(t, store.Transactions(), 1)

	escrow, err := store.CreateEscrow(ctx, "buyer1", "p1", "Villa", decimal.RequireFromString("450000"), "seller1")
	require.NoError(t, err)
	// Moving funds into escrow does not change the total.
	assert.True(t, total().Equal(decimal.RequireFromString("501000")))
	assert.Len(t, store.Transactions(), 2)

	_, err = store.ApproveEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.True(t, total().Equal(decimal.RequireFromString("501000")))
	assert.Len(t, store.Transactions(), 2)

	_, err = store.ReleaseEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	// Release hands the held amount to the seller outside the wallet.
	assert.True(t, total().Equal(decimal.RequireFromString("51000")))
	assert.Len(t, store.Transactions(), 3)

	_, err = store.WithdrawFunds(ctx, decimal.RequireFromString("1000"), "pm1")
	require.NoError(t, err)
	assert.True(t, total().Equal(decimal.RequireFromString("50000")))

	// Append-only, newest first: every entry is still present and ordered.
	history := store.Transactions()
	require.Len(t, history, 4)
	assert.Equal(t, domain.TransactionTypeWithdrawal, history[0].Type)
	assert.Equal(t, domain.TransactionTypeEscrowRelease, history[1].Type)
	assert.Equal(t, domain.TransactionTypeEscrowHold, history[2].Type)
	assert.Equal(t, domain.TransactionTypeDeposit, history[3].Type)
}

// TestConcurrentCreateEscrow fires concurrent purchases that together exceed
// the balance and checks the funds guard holds under contention.
func TestConcurrentCreateEscrow(t *testing.T) {
	ctx := context.Background()
	store, gw, repo := newTestStore(t, testSnapshot("600000"))
	gw.On("Process", mock.Anything, mock.Anything).Return(nil)
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	price := decimal.RequireFromString("450000")
	const attempts = 8

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateEscrow(ctx, "buyer1", "p1", "Villa", price, "seller1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, util.ErrInsufficientFunds)
		}
	}

	// Only one purchase fits in the balance; the rest must have been rejected
	// against committed state, never against a stale snapshot.
	assert.Equal(t, 1, successes)
	assert.True(t, store.Balance().Equal(decimal.RequireFromString("150000")))
	assert.True(t, store.EscrowBalance().Equal(price))
	assert.False(t, store.Balance().IsNegative())
	assert.Len(t, store.Transactions(), 1)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("SeedsMissingWallet", func(t *testing.T) {
		gw := new(MockPaymentGateway)
		repo := new(MockSnapshotRepository)
		repo.On("Load", mock.Anything).Return(nil, util.ErrNotFound).Once()
		repo.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

		store := NewStore(gw, repo, decimal.RequireFromString("5000"), logger)
		require.NoError(t, store.Refresh(ctx))

		assert.True(t, store.Balance().Equal(decimal.RequireFromString("5000")))
		assert.True(t, store.EscrowBalance().IsZero())
		assert.Empty(t, store.Transactions())
		mock.AssertExpectationsForObjects(t, repo)
	})

	t.Run("SerializedWithCommits", func(t *testing.T) {
		gw := new(MockPaymentGateway)
		repo := new(MockSnapshotRepository)
		repo.On("Load", mock.Anything).Return(testSnapshot("100"), nil).Once()

		store := NewStore(gw, repo, decimal.Zero, logger)
		require.NoError(t, store.Refresh(ctx))

		// The second load blocks until released, holding the refresh open
		// while a deposit tries to commit.
		loadStarted := make(chan struct{})
		releaseLoad := make(chan struct{})
		repo.On("Load", mock.Anything).Run(func(args mock.Arguments) {
			close(loadStarted)
			<-releaseLoad
		}).Return(testSnapshot("100"), nil).Once()

		var savedMu sync.Mutex
		var lastSaved decimal.Decimal
		repo.On("Save", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			snap := args.Get(1).(*domain.WalletSnapshot)
			savedMu.Lock()
			lastSaved = snap.Balance
			savedMu.Unlock()
		}).Return(nil)
		gw.On("Process", mock.Anything, gateway.OpDeposit).Return(nil)

		refreshDone := make(chan error, 1)
		go func() {
			refreshDone <- store.Refresh(ctx)
		}()
		<-loadStarted

		depositDone := make(chan error, 1)
		go func() {
			_, err := store.AddFunds(ctx, decimal.RequireFromString("500"), "pm1")
			depositDone <- err
		}()

		// Give the deposit a chance to commit mid-refresh; it must instead
		// wait until the refresh has swapped its snapshot in.
		var depositErr error
		depositFinished := false
		select {
		case depositErr = <-depositDone:
			depositFinished = true
		case <-time.After(100 * time.Millisecond):
		}
		close(releaseLoad)

		require.NoError(t, <-refreshDone)
		if !depositFinished {
			depositErr = <-depositDone
		}
		require.NoError(t, depositErr)

		// The committed deposit survives the refresh, in memory and on disk.
		assert.True(t, store.Balance().Equal(decimal.RequireFromString("600")))
		require.Len(t, store.Transactions(), 1)
		savedMu.Lock()
		assert.True(t, lastSaved.Equal(decimal.RequireFromString("600")))
		savedMu.Unlock()
	})

	t.Run("PropagatesLoadFailure", func(t *testing.T) {
		gw := new(MockPaymentGateway)
		repo := new(MockSnapshotRepository)
		repo.On("Load", mock.Anything).Return(nil, errors.New("corrupt blob")).Once()

		store := NewStore(gw, repo, decimal.Zero, logger)
		err := store.Refresh(ctx)

		assert.Error(t, err)
		assert.False(t, store.IsLoading())
	})
}

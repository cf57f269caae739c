// internal/gateway/gateway.go
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Operation identifies the remote leg of a wallet operation for the gateway.
type Operation string

const (
	OpDeposit       Operation = "deposit"
	OpWithdrawal    Operation = "withdrawal"
	OpEscrowCreate  Operation = "escrow_create"
	OpEscrowApprove Operation = "escrow_approve"
	OpEscrowRelease Operation = "escrow_release"
	OpEscrowRefund  Operation = "escrow_refund"
)

// PaymentGateway is the port for the remote leg of every wallet operation.
// The shipped implementation only simulates a network round-trip; a real
// payment processor integration would go behind this interface without
// touching the ledger's state-transition logic.
type PaymentGateway interface {
	Process(ctx context.Context, op Operation) error
}

// Simulated is a PaymentGateway that waits a fixed latency and optionally
// fails a configurable fraction of calls.
type Simulated struct {
	latency  time.Duration
	failRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a simulated gateway. A failRate of 0 never fails;
// 1 always fails.
func NewSimulated(latency time.Duration, failRate float64) *Simulated {
	return &Simulated{
		latency:  latency,
		failRate: failRate,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Process waits out the simulated round-trip, honoring context cancellation.
func (g *Simulated) Process(ctx context.Context, op Operation) error {
	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("gateway %s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}

	if g.failRate > 0 {
		g.mu.Lock()
		failed := g.rng.Float64() < g.failRate
		g.mu.Unlock()
		if failed {
			return fmt.Errorf("gateway %s: simulated transport failure", op)
		}
	}
	return nil
}

// Package risk implements the Drawdown Supervisor: a process-wide
// singleton tracking peak equity and drawdown percent, latching a
// circuit breaker once the configured maximum drawdown is crossed. It
// also wraps broker calls with a per-stream transient-error circuit
// breaker, a companion mechanism to the money-based latch below.
package risk

import (
	"sync"

	coreerrors "github.com/benedict-anokye/forgetrade/internal/core/errors"
	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DrawdownSupervisor owns (peak_equity, current_equity,
// circuit_breaker_active, max_drawdown_pct) per §4.6. It is injected into
// every Trading Engine at construction — no ambient global — and shared
// across all streams as the one process-wide writer of account drawdown
// state.
type DrawdownSupervisor struct {
	logger *zap.Logger

	mu                sync.RWMutex
	peakEquity        decimal.Decimal
	currentEquity     decimal.Decimal
	balance           decimal.Decimal
	unrealizedPnL     decimal.Decimal
	openPositions     int
	drawdownPct       decimal.Decimal
	circuitBreaker    bool
	maxDrawdownPct    decimal.Decimal
}

// NewDrawdownSupervisor constructs a supervisor seeded at startingEquity,
// latching once drawdown_pct reaches maxDrawdownPct (a percentage, e.g.
// 10 for 10%).
func NewDrawdownSupervisor(logger *zap.Logger, startingEquity, maxDrawdownPct decimal.Decimal) *DrawdownSupervisor {
	return &DrawdownSupervisor{
		logger:         logger.Named("drawdown-supervisor"),
		peakEquity:     startingEquity,
		currentEquity:  startingEquity,
		balance:        startingEquity,
		maxDrawdownPct: maxDrawdownPct,
	}
}

// UpdateEquity is the supervisor's single exclusive-critical-section
// writer: peak_equity <- max(peak_equity, equity); drawdown_pct <-
// (peak_equity-equity)/peak_equity*100. Once drawdown_pct crosses the
// threshold the breaker latches permanently for the process lifetime —
// there is no auto-reset, only an explicit restart.
func (d *DrawdownSupervisor) UpdateEquity(equity, balance, unrealizedPnL decimal.Decimal, openPositions int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.currentEquity = equity
	d.balance = balance
	d.unrealizedPnL = unrealizedPnL
	d.openPositions = openPositions

	if equity.GreaterThan(d.peakEquity) {
		d.peakEquity = equity
	}
	if d.peakEquity.IsZero() {
		d.drawdownPct = decimal.Zero
	} else {
		d.drawdownPct = d.peakEquity.Sub(equity).Div(d.peakEquity).Mul(decimal.NewFromInt(100))
	}

	if !d.circuitBreaker && d.drawdownPct.GreaterThanOrEqual(d.maxDrawdownPct) {
		d.circuitBreaker = true
		d.logger.Error("drawdown circuit breaker latched",
			zap.String("drawdown_pct", d.drawdownPct.String()),
			zap.String("max_drawdown_pct", d.maxDrawdownPct.String()),
			zap.String("peak_equity", d.peakEquity.String()),
			zap.String("equity", equity.String()))
	}
}

// ConsultBeforeOrder is the mandatory pre-order check: every engine must
// call this before placing an order. A latched breaker yields the
// non-error Veto("circuit breaker active").
func (d *DrawdownSupervisor) ConsultBeforeOrder() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.circuitBreaker {
		return coreerrors.CircuitBreakerActive
	}
	return nil
}

// IsBreakerActive reports the latch state under a read lock.
func (d *DrawdownSupervisor) IsBreakerActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.circuitBreaker
}

// Snapshot copies the current small-scalar account state for a reader
// (status projection, another engine) without holding the lock beyond the
// copy.
func (d *DrawdownSupervisor) Snapshot() types.AccountState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return types.AccountState{
		Equity:            d.currentEquity,
		Balance:           d.balance,
		UnrealizedPnL:     d.unrealizedPnL,
		OpenPositionCount: d.openPositions,
		DrawdownPct:       d.drawdownPct,
	}
}

// PeakEquity returns the current peak-equity high-water mark.
func (d *DrawdownSupervisor) PeakEquity() decimal.Decimal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peakEquity
}

// Package engine implements the per-stream Trading Engine state machine and
// the Engine Manager that owns a set of them, per §4.8/§4.9. Each
// StreamEngine is a cooperative worker: a single goroutine that only
// suspends at I/O or the poll-interval wait, as required by §5.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benedict-anokye/forgetrade/internal/broker"
	coreerrors "github.com/benedict-anokye/forgetrade/internal/core/errors"
	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/persistence"
	"github.com/benedict-anokye/forgetrade/internal/risk"
	"github.com/benedict-anokye/forgetrade/internal/sizing"
	"github.com/benedict-anokye/forgetrade/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// State is one of the Trading Engine's state machine states from §4.8.
type State string

const (
	StateIdle       State = "idle"
	StatePolling    State = "polling"
	StateEvaluating State = "evaluating"
	StateSizing     State = "sizing"
	StatePlacing    State = "placing"
	StateOrderOpen  State = "order_open"
	StatePaused     State = "paused"
	StateStopped    State = "stopped"
)

// shadowTrade is the engine's local view of an order it has placed,
// mirrored against the broker's position list on every reconcile.
type shadowTrade struct {
	dbID       int64
	orderID    string
	instrument string
	direction  types.Direction
	entryPrice decimal.Decimal
	stop       decimal.Decimal
	target     decimal.Decimal
	units      decimal.Decimal
	trailed    bool // true once the stop has been advanced off its original placement
}

// Snapshot is the non-blocking, possibly-stale published view a status
// projection reader consumes per §4.11.
type Snapshot struct {
	StreamName     string
	State          State
	LastCycleAt    time.Time
	LastVeto       *types.VetoInfo
	LastSignal     *types.EntrySignal
	OpenTradeCount int
	LastError      string
}

// StreamEngine drives one instrument stream's cooperative poll/evaluate/
// act/persist cycle. The Drawdown Supervisor, persistence store, and
// broker are injected at construction — no ambient global per §9.
type StreamEngine struct {
	logger     *zap.Logger
	cfg        types.StreamConfig
	mode       types.Mode
	registry   *strategy.Registry
	drawdown   *risk.DrawdownSupervisor
	breakers   *risk.BreakerFactory
	store      *persistence.Store
	brk        broker.Broker
	backoff    backoffPolicy
	sizer      *sizing.PositionSizer

	cfgMu sync.RWMutex // guards cfg for ApplySettings vs cycle reads

	stopCh   chan struct{}
	pauseCh  chan struct{}
	resumeCh chan struct{}
	stopped  chan struct{}

	shadowMu sync.Mutex
	shadow   map[string]shadowTrade // orderID -> local record

	snapMu  sync.RWMutex
	snap    Snapshot
	history []Snapshot // bounded ring of recently published snapshots, newest last
}

const maxSnapshotHistory = 50

// New constructs a StreamEngine. It does not start the worker goroutine;
// call Start for that.
func New(
	logger *zap.Logger,
	cfg types.StreamConfig,
	mode types.Mode,
	registry *strategy.Registry,
	drawdown *risk.DrawdownSupervisor,
	breakers *risk.BreakerFactory,
	store *persistence.Store,
	brk broker.Broker,
) *StreamEngine {
	return &StreamEngine{
		logger:   logger.Named("engine." + cfg.Name),
		cfg:      cfg,
		mode:     mode,
		registry: registry,
		drawdown: drawdown,
		breakers: breakers,
		store:    store,
		brk:      brk,
		backoff:  defaultBackoff(),
		sizer:    sizing.NewPositionSizer(logger.Named("engine."+cfg.Name), nil),
		stopCh:   make(chan struct{}),
		pauseCh:  make(chan struct{}, 1),
		resumeCh: make(chan struct{}, 1),
		stopped:  make(chan struct{}),
		shadow:   make(map[string]shadowTrade),
		snap:     Snapshot{StreamName: cfg.Name, State: StateIdle},
	}
}

// Sizer returns the stream's advisory Kelly sizer, consulted only by the
// status projection's diagnostics (§4.5) — never on the live order path.
func (e *StreamEngine) Sizer() *sizing.PositionSizer {
	return e.sizer
}

func (e *StreamEngine) config() types.StreamConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// ApplySettings replaces the stream configuration; it takes effect on the
// next cycle boundary, never interrupting an in-flight order per §4.9.
func (e *StreamEngine) ApplySettings(cfg types.StreamConfig) {
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.cfg = cfg
}

func (e *StreamEngine) publish(s Snapshot) {
	s.StreamName = e.config().Name
	e.snapMu.Lock()
	e.snap = s
	e.history = append(e.history, s)
	if len(e.history) > maxSnapshotHistory {
		e.history = e.history[len(e.history)-maxSnapshotHistory:]
	}
	e.snapMu.Unlock()
}

// Snapshot returns the latest published, possibly-stale state.
func (e *StreamEngine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

// History returns the bounded ring of recently published snapshots,
// newest last, for the status projection's signal-history view.
func (e *StreamEngine) History() []Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	out := make([]Snapshot, len(e.history))
	copy(out, e.history)
	return out
}

// Start launches the cooperative worker goroutine and returns immediately.
func (e *StreamEngine) Start(ctx context.Context) {
	e.publish(Snapshot{State: StatePolling, LastCycleAt: time.Now()})
	go e.run(ctx)
}

// Pause transitions the engine to Paused at the next select boundary.
func (e *StreamEngine) Pause() {
	select {
	case e.pauseCh <- struct{}{}:
	default:
	}
}

// Resume transitions a Paused engine back to Polling.
func (e *StreamEngine) Resume() {
	select {
	case e.resumeCh <- struct{}{}:
	default:
	}
}

// Stop terminates the worker. Stopped is terminal; the engine cannot be
// restarted (construct a new one).
func (e *StreamEngine) Stop() {
	close(e.stopCh)
	<-e.stopped
}

func (e *StreamEngine) run(ctx context.Context) {
	defer close(e.stopped)

	ticker := time.NewTicker(e.config().PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.publish(Snapshot{State: StateStopped, LastCycleAt: time.Now()})
			return
		case <-e.stopCh:
			e.publish(Snapshot{State: StateStopped, LastCycleAt: time.Now()})
			return
		case <-e.pauseCh:
			e.publish(Snapshot{State: StatePaused, LastCycleAt: time.Now()})
			if !e.waitForResume(ctx) {
				e.publish(Snapshot{State: StateStopped, LastCycleAt: time.Now()})
				return
			}
			ticker.Reset(e.config().PollInterval)
		case <-ticker.C:
			e.runCycle(ctx)
			ticker.Reset(e.config().PollInterval)
		}
	}
}

func (e *StreamEngine) waitForResume(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-e.stopCh:
			return false
		case <-e.resumeCh:
			return true
		}
	}
}

// runCycle executes exactly one (a)-(h) cycle from §4.8. Strategy
// evaluation, sizing, and state transitions are synchronous and
// non-suspending; only the broker/persistence calls within this function
// perform I/O.
func (e *StreamEngine) runCycle(ctx context.Context) {
	cfg := e.config()
	now := time.Now()

	candles, err := e.fetchCandles(ctx, cfg)
	if err != nil {
		e.logger.Warn("candle fetch failed", zap.Error(err))
		e.publish(Snapshot{State: StatePolling, LastCycleAt: now, LastError: err.Error(), OpenTradeCount: e.openCount()})
		return
	}

	e.publish(Snapshot{State: StateEvaluating, LastCycleAt: now, OpenTradeCount: e.openCount()})

	strat, ok := e.registry.Get(cfg.StrategyID)
	if !ok {
		e.logger.Error("unknown strategy id, halting stream", zap.String("strategy_id", cfg.StrategyID))
		e.publish(Snapshot{State: StateStopped, LastCycleAt: now, LastError: "unknown strategy id"})
		return
	}

	result := strat.Evaluate(strategy.Context{Stream: cfg, Candles: candles, Now: now})
	if !result.IsSignal() {
		e.publish(Snapshot{State: StatePolling, LastCycleAt: now, LastVeto: result.Veto, OpenTradeCount: e.openCount()})
		e.reconcileAndRecord(ctx, cfg, now)
		return
	}

	e.publish(Snapshot{State: StateSizing, LastCycleAt: now, LastSignal: result.Signal, OpenTradeCount: e.openCount()})

	if err := e.drawdown.ConsultBeforeOrder(); err != nil {
		e.logger.Info("drawdown supervisor vetoed cycle", zap.Error(err))
		e.publish(Snapshot{State: StatePolling, LastCycleAt: now, LastError: err.Error(), OpenTradeCount: e.openCount()})
		return
	}
	if e.openCount() >= cfg.MaxConcurrentPositions {
		e.publish(Snapshot{State: StatePolling, LastCycleAt: now, LastError: "max concurrent positions reached", OpenTradeCount: e.openCount()})
		return
	}

	account, err := e.fetchAccount(ctx)
	if err != nil {
		e.logger.Warn("account fetch failed", zap.Error(err))
		e.publish(Snapshot{State: StatePolling, LastCycleAt: now, LastError: err.Error(), OpenTradeCount: e.openCount()})
		return
	}

	sig := *result.Signal
	sizeResult := sizing.Size(cfg.Instrument, account.Equity, cfg.RiskPercentPerTrade, sig.Entry, sig.Stop)
	if sizeResult.VetoedOn != "" {
		e.publish(Snapshot{State: StatePolling, LastCycleAt: now, LastError: sizeResult.VetoedOn, OpenTradeCount: e.openCount()})
		return
	}

	e.publish(Snapshot{State: StatePlacing, LastCycleAt: now, LastSignal: &sig, OpenTradeCount: e.openCount()})

	unitsSigned := sizeResult.Units
	if sig.Direction == types.Sell {
		unitsSigned = unitsSigned.Neg()
	}

	var ack broker.OrderAck
	placeErr := retryBroker(ctx, e.backoff, func() error {
		res, execErr := e.breakers.Execute(cfg.Name, func() (interface{}, error) {
			return e.brk.PlaceOrder(ctx, cfg.Instrument, unitsSigned, sig.Stop, sig.Target)
		})
		if execErr != nil {
			return execErr
		}
		ack = res.(broker.OrderAck)
		return nil
	})

	if placeErr != nil {
		if placeErr == coreerrors.CircuitBreakerActive || isBreakerOpenError(placeErr) {
			e.logger.Warn("broker circuit breaker active, skipping placement", zap.String("stream", cfg.Name))
		} else {
			e.logger.Error("order placement failed", zap.Error(placeErr))
		}
		e.publish(Snapshot{State: StatePolling, LastCycleAt: now, LastError: placeErr.Error(), OpenTradeCount: e.openCount()})
		return
	}

	trade := types.Trade{
		StreamName: cfg.Name,
		Mode:       e.mode,
		Direction:  sig.Direction,
		Instrument: cfg.Instrument,
		EntryPrice: ack.FillPrice,
		Stop:       sig.Stop,
		Target:     sig.Target,
		Units:      unitsSigned,
		EntryReason: sig.Reason,
		Status:      types.StatusOpen,
		OpenedAt:    ack.OpenTime,
	}
	if sig.Zone != nil {
		trade.HasZone = true
		trade.ZonePrice = sig.Zone.Level
		trade.ZoneType = sig.Zone.Role
	}

	dbID, err := e.store.InsertTrade(ctx, trade)
	if err != nil {
		e.logger.Error("trade persistence failed after broker ack", zap.Error(err), zap.String("order_id", ack.OrderID))
		e.publish(Snapshot{State: StateOrderOpen, LastCycleAt: now, LastError: err.Error(), OpenTradeCount: e.openCount()})
		return
	}

	e.shadowMu.Lock()
	e.shadow[ack.OrderID] = shadowTrade{
		dbID: dbID, orderID: ack.OrderID, instrument: cfg.Instrument, direction: sig.Direction,
		entryPrice: ack.FillPrice, stop: sig.Stop, target: sig.Target, units: unitsSigned,
	}
	e.shadowMu.Unlock()

	e.publish(Snapshot{State: StateOrderOpen, LastCycleAt: now, OpenTradeCount: e.openCount()})
	e.reconcileAndRecord(ctx, cfg, now)
}

func (e *StreamEngine) openCount() int {
	e.shadowMu.Lock()
	defer e.shadowMu.Unlock()
	return len(e.shadow)
}

func (e *StreamEngine) fetchCandles(ctx context.Context, cfg types.StreamConfig) (map[types.Granularity][]types.Candle, error) {
	out := make(map[types.Granularity][]types.Candle, len(cfg.Granularities))
	for _, g := range cfg.Granularities {
		var series []types.Candle
		err := retryBroker(ctx, e.backoff, func() error {
			res, execErr := e.breakers.Execute(cfg.Name, func() (interface{}, error) {
				return e.brk.FetchCandles(ctx, cfg.Instrument, g, 250)
			})
			if execErr != nil {
				return execErr
			}
			series = res.([]types.Candle)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s candles: %w", g, err)
		}
		out[g] = series
	}
	return out, nil
}

func (e *StreamEngine) fetchAccount(ctx context.Context) (broker.Account, error) {
	var account broker.Account
	err := retryBroker(ctx, e.backoff, func() error {
		res, execErr := e.breakers.Execute(e.config().Name, func() (interface{}, error) {
			return e.brk.GetAccount(ctx)
		})
		if execErr != nil {
			return execErr
		}
		account = res.(broker.Account)
		return nil
	})
	return account, err
}

// reconcileAndRecord implements step (g)/(h): diff the local shadow set
// against the broker's reported open positions, mutating any trade row
// whose order the broker no longer reports open, then records an
// EquitySnapshot from the refreshed account view.
func (e *StreamEngine) reconcileAndRecord(ctx context.Context, cfg types.StreamConfig, now time.Time) {
	positions, err := e.fetchPositions(ctx)
	if err != nil {
		e.logger.Warn("reconcile: position fetch failed", zap.Error(err))
		return
	}
	remote := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		remote[p.Instrument] = struct{}{} // broker.Position carries no order id, so match by instrument
	}

	e.shadowMu.Lock()
	var closed []shadowTrade
	var stillOpen []string
	for orderID, st := range e.shadow {
		if _, open := remote[cfg.Instrument]; !open {
			closed = append(closed, st)
			delete(e.shadow, orderID)
		} else {
			stillOpen = append(stillOpen, orderID)
		}
	}
	e.shadowMu.Unlock()

	for _, st := range closed {
		e.closeShadowTrade(ctx, st, now)
	}

	if cfg.StrategyID == "momentum_scalp" {
		for _, orderID := range stillOpen {
			e.trailScalpStop(ctx, orderID, positions)
		}
	}

	account, err := e.fetchAccount(ctx)
	if err != nil {
		e.logger.Warn("reconcile: account fetch failed", zap.Error(err))
		return
	}
	e.drawdown.UpdateEquity(account.Equity, account.Balance, account.UnrealizedPnL, e.openCount())
	snap := e.drawdown.Snapshot()
	if err := e.store.InsertEquitySnapshot(ctx, types.EquitySnapshot{
		Mode: e.mode, Equity: snap.Equity, Balance: snap.Balance,
		PeakEquity: e.drawdown.PeakEquity(), DrawdownPct: snap.DrawdownPct,
		OpenPositions: snap.OpenPositionCount, RecordedAt: now,
	}); err != nil {
		e.logger.Warn("equity snapshot persistence failed", zap.Error(err))
	}
}

func (e *StreamEngine) fetchPositions(ctx context.Context) ([]broker.Position, error) {
	var positions []broker.Position
	err := retryBroker(ctx, e.backoff, func() error {
		res, execErr := e.breakers.Execute(e.config().Name, func() (interface{}, error) {
			return e.brk.GetPositions(ctx)
		})
		if execErr != nil {
			return execErr
		}
		positions = res.([]broker.Position)
		return nil
	})
	return positions, err
}

// trailScalpStop advances a momentum-scalp position's stop per §4.5 (move
// to breakeven at 1R, trail at 0.5R behind price from 1.5R on), issuing
// ModifyOrder only when the computed stop actually advances.
func (e *StreamEngine) trailScalpStop(ctx context.Context, orderID string, positions []broker.Position) {
	e.shadowMu.Lock()
	st, ok := e.shadow[orderID]
	e.shadowMu.Unlock()
	if !ok {
		return
	}

	var pos *broker.Position
	for i := range positions {
		if positions[i].Instrument == st.instrument {
			pos = &positions[i]
			break
		}
	}
	if pos == nil || pos.Units.IsZero() {
		return
	}

	currentPrice := pos.AvgPrice.Add(pos.UnrealizedPnL.Div(pos.Units))
	currentR := scalpR(st.direction, st.entryPrice, st.stop, currentPrice)
	newStop := sizing.TrailScalpStop(st.direction, st.entryPrice, st.stop, currentPrice, currentR)
	if newStop.Equal(st.stop) {
		return
	}

	if _, err := e.breakers.Execute(e.config().Name, func() (interface{}, error) {
		return nil, e.brk.ModifyOrder(ctx, orderID, newStop)
	}); err != nil {
		e.logger.Warn("trailing stop modify failed", zap.Error(err), zap.String("order_id", orderID))
		return
	}

	e.shadowMu.Lock()
	st.stop = newStop
	st.trailed = true
	e.shadow[orderID] = st
	e.shadowMu.Unlock()
}

// scalpR expresses the current unrealized move as a multiple of the
// original stop distance, in the trade's favour.
func scalpR(dir types.Direction, entry, stop, price decimal.Decimal) decimal.Decimal {
	riskDistance := entry.Sub(stop).Abs()
	if riskDistance.IsZero() {
		return decimal.Zero
	}
	if dir == types.Buy {
		return price.Sub(entry).Div(riskDistance)
	}
	return entry.Sub(price).Div(riskDistance)
}

// closeShadowTrade derives an exit_reason from which level the exit price
// landed within ±1 pip of, per the reconciliation policy in §4.8.
func (e *StreamEngine) closeShadowTrade(ctx context.Context, st shadowTrade, now time.Time) {
	res, err := e.breakers.Execute(e.config().Name, func() (interface{}, error) {
		return e.brk.CloseOrder(ctx, st.orderID)
	})
	if err != nil {
		e.logger.Error("close reconciliation failed", zap.Error(err), zap.String("order_id", st.orderID))
		return
	}
	closeResult := res.(broker.CloseResult)

	pip := sizing.PipSize(st.instrument)
	reason := types.ExitManual
	switch {
	case closeResult.ExitPrice.Sub(st.target).Abs().LessThanOrEqual(pip):
		reason = types.ExitTakeProfit
	case closeResult.ExitPrice.Sub(st.stop).Abs().LessThanOrEqual(pip):
		if st.trailed {
			reason = types.ExitTrailingStop
		} else {
			reason = types.ExitStopLoss
		}
	}

	pnl := closeResult.ExitPrice.Sub(st.entryPrice).Mul(st.units)
	err = e.store.CloseTrade(ctx, st.dbID, closeResult.ExitPrice, reason, pnl, now)
	if _, conflict := err.(*coreerrors.PersistenceConflict); conflict {
		if err = e.store.CloseTrade(ctx, st.dbID, closeResult.ExitPrice, reason, pnl, now); err != nil {
			err = &coreerrors.InvariantViolation{Component: "persistence", Detail: err.Error()}
		}
	}
	if err != nil {
		e.logger.Error("trade close persistence failed", zap.Error(err), zap.Int64("trade_id", st.dbID))
	}

	e.recordKellyOutcome(st, pnl)
}

// recordKellyOutcome feeds a closed trade's realized return into the
// stream's advisory Kelly sizer (§4.5/§10); it never affects live sizing.
func (e *StreamEngine) recordKellyOutcome(st shadowTrade, pnl decimal.Decimal) {
	notional := st.entryPrice.Mul(st.units).Abs()
	if notional.IsZero() {
		return
	}
	returnPct, _ := pnl.Div(notional).Float64()
	e.sizer.AddTradeResult(&sizing.TradeResult{
		Symbol: st.instrument, ReturnPct: returnPct, IsWin: pnl.GreaterThan(decimal.Zero),
	})
}

// CloseAllOpen force-closes every locally shadowed position through the
// broker (using the order IDs the engine holds in memory, since the
// persisted trade row does not carry a broker order ID) and returns how
// many it closed. Used by emergency_stop per §5's cancellation policy.
func (e *StreamEngine) CloseAllOpen(ctx context.Context) int {
	e.shadowMu.Lock()
	trades := make([]shadowTrade, 0, len(e.shadow))
	for _, st := range e.shadow {
		trades = append(trades, st)
	}
	e.shadow = make(map[string]shadowTrade)
	e.shadowMu.Unlock()

	now := time.Now()
	for _, st := range trades {
		e.closeShadowTrade(ctx, st, now)
	}
	return len(trades)
}

func isBreakerOpenError(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}

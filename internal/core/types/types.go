// Package types defines the shared data model for the trading engine core:
// candles, zones, signals, trades, equity snapshots, account state, and
// stream configuration. Everything monetary is a decimal.Decimal — never a
// float64 — per the precision requirements on price and P&L arithmetic.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Granularity tags a candle series by timeframe.
type Granularity string

const (
	M1  Granularity = "M1"
	M5  Granularity = "M5"
	M15 Granularity = "M15"
	H1  Granularity = "H1"
	H4  Granularity = "H4"
	D1  Granularity = "D1"
)

// Direction is a trade or signal side.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// ZoneRole is the original or acting classification of a price zone.
type ZoneRole string

const (
	Support    ZoneRole = "support"
	Resistance ZoneRole = "resistance"
)

// Mode is the run mode a trade or engine instance executes under.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
)

// TradeStatus is the lifecycle state of a Trade row.
type TradeStatus string

const (
	StatusOpen      TradeStatus = "open"
	StatusClosed    TradeStatus = "closed"
	StatusCancelled TradeStatus = "cancelled"
)

// ExitReason explains why a trade was closed.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitManual       ExitReason = "manual"
	ExitTrailingStop ExitReason = "trailing_stop"
)

// Candle is one OHLCV bar for an instrument/granularity/timestamp. Candles
// are immutable once constructed; equality is by (Instrument, Granularity,
// Timestamp).
type Candle struct {
	Instrument  string
	Granularity Granularity
	Timestamp   time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
}

// Equal implements the equality-by-key contract from the data model.
func (c Candle) Equal(o Candle) bool {
	return c.Instrument == o.Instrument &&
		c.Granularity == o.Granularity &&
		c.Timestamp.Equal(o.Timestamp)
}

// Body returns the absolute size of the candle's real body.
func (c Candle) Body() decimal.Decimal {
	return c.Close.Sub(c.Open).Abs()
}

// Range returns high minus low.
func (c Candle) Range() decimal.Decimal {
	return c.High.Sub(c.Low)
}

// UpperShadow is the distance from the body top to the high.
func (c Candle) UpperShadow() decimal.Decimal {
	top := decimal.Max(c.Open, c.Close)
	return c.High.Sub(top)
}

// LowerShadow is the distance from the low to the body bottom.
func (c Candle) LowerShadow() decimal.Decimal {
	bottom := decimal.Min(c.Open, c.Close)
	return bottom.Sub(c.Low)
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool {
	return c.Close.GreaterThan(c.Open)
}

// Zone is a clustered support/resistance price level, regenerated each
// evaluation cycle by the Zone Detector.
type Zone struct {
	Level         decimal.Decimal
	Role          ZoneRole
	TouchCount    int
	DetectedAt    time.Time
	InvalidatedAt *time.Time
}

// Active reports whether the zone has not been invalidated.
func (z Zone) Active() bool {
	return z.InvalidatedAt == nil
}

// ActingRole returns the role the zone plays given the current close, per
// the flip rule: close strictly above the level acts as support, strictly
// below acts as resistance, otherwise the original role holds.
func (z Zone) ActingRole(close decimal.Decimal) (role ZoneRole, flipped bool) {
	switch {
	case close.GreaterThan(z.Level):
		return Support, Support != z.Role
	case close.LessThan(z.Level):
		return Resistance, Resistance != z.Role
	default:
		return z.Role, false
	}
}

// EntrySignal is a strategy's proposed trade, prior to sizing.
type EntrySignal struct {
	Direction  Direction
	Entry      decimal.Decimal
	Stop       decimal.Decimal
	Target     decimal.Decimal
	Zone       *Zone
	Reason     string
	Stream     string
	EvaluatedAt time.Time
}

// Validate checks the directional invariant: for a buy, stop < entry <
// target; for a sell, stop > entry > target.
func (s EntrySignal) Validate() error {
	switch s.Direction {
	case Buy:
		if !(s.Stop.LessThan(s.Entry) && s.Entry.LessThan(s.Target)) {
			return errInvalidTriple(s)
		}
	case Sell:
		if !(s.Stop.GreaterThan(s.Entry) && s.Entry.GreaterThan(s.Target)) {
			return errInvalidTriple(s)
		}
	default:
		return errInvalidTriple(s)
	}
	return nil
}

// RR returns the realised risk-to-reward ratio of the signal.
func (s EntrySignal) RR() decimal.Decimal {
	risk := s.Entry.Sub(s.Stop).Abs()
	if risk.IsZero() {
		return decimal.Zero
	}
	reward := s.Target.Sub(s.Entry).Abs()
	return reward.Div(risk)
}

func errInvalidTriple(s EntrySignal) error {
	return &InvalidSignalError{Direction: s.Direction, Entry: s.Entry, Stop: s.Stop, Target: s.Target}
}

// InvalidSignalError reports a signal that violates the directional invariant.
type InvalidSignalError struct {
	Direction          Direction
	Entry, Stop, Target decimal.Decimal
}

func (e *InvalidSignalError) Error() string {
	return "invalid entry/stop/target triple for direction " + string(e.Direction)
}

// GateResult is one diagnostic checkpoint in a strategy's gate pipeline.
type GateResult struct {
	Name   string
	Passed bool
	Detail string
}

// VetoInfo explains why a strategy produced no signal.
type VetoInfo struct {
	Reason string
	Gates  []GateResult
}

// StrategyResult is the tagged-variant output of a strategy evaluation:
// exactly one of Signal or Veto is populated.
type StrategyResult struct {
	Signal *EntrySignal
	Veto   *VetoInfo
}

// IsSignal reports whether the result carries a tradable signal.
func (r StrategyResult) IsSignal() bool {
	return r.Signal != nil
}

// VetoResult builds a Veto StrategyResult.
func VetoResult(reason string, gates ...GateResult) StrategyResult {
	return StrategyResult{Veto: &VetoInfo{Reason: reason, Gates: gates}}
}

// SignalResult builds a Signal StrategyResult.
func SignalResult(sig EntrySignal) StrategyResult {
	return StrategyResult{Signal: &sig}
}

// Trade is a single position's full lifecycle record.
type Trade struct {
	ID           int64
	StreamName   string
	Mode         Mode
	Direction    Direction
	Instrument   string
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	HasExit      bool
	Stop         decimal.Decimal
	Target       decimal.Decimal
	Units        decimal.Decimal // signed: positive buy, negative sell
	ZonePrice    decimal.Decimal
	ZoneType     ZoneRole
	HasZone      bool
	EntryReason  string
	ExitReason   ExitReason
	PnL          decimal.Decimal
	Status       TradeStatus
	OpenedAt     time.Time
	ClosedAt     time.Time
}

// Close mutates an open trade to closed exactly once, guarding the
// idempotency invariant from §4.7.
func (t *Trade) Close(exitPrice decimal.Decimal, reason ExitReason, closedAt time.Time) error {
	if t.Status == StatusClosed {
		return ErrAlreadyClosed
	}
	t.ExitPrice = exitPrice
	t.HasExit = true
	t.ExitReason = reason
	t.ClosedAt = closedAt
	t.Status = StatusClosed
	t.PnL = exitPrice.Sub(t.EntryPrice).Mul(t.Units)
	return nil
}

// EquitySnapshot is an append-only point-in-time account record.
type EquitySnapshot struct {
	ID             int64
	Mode           Mode
	Equity         decimal.Decimal
	Balance        decimal.Decimal
	PeakEquity     decimal.Decimal
	DrawdownPct    decimal.Decimal
	OpenPositions  int
	RecordedAt     time.Time
}

// AccountState is the Drawdown Supervisor's process-wide derived view;
// never persisted as a single row.
type AccountState struct {
	Equity            decimal.Decimal
	Balance           decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	OpenPositionCount int
	DrawdownPct       decimal.Decimal
}

// StreamConfig binds one strategy to one instrument with its own polling
// cycle. Immutable during a run except through the settings interface.
type StreamConfig struct {
	Name                string
	Instrument          string
	StrategyID          string
	Granularities       []Granularity
	PollInterval        time.Duration
	RiskPercentPerTrade decimal.Decimal
	MaxConcurrentPositions int
	TargetRR            decimal.Decimal
	SessionStartHour    int
	SessionEndHour      int
	Enabled             bool
}

// ErrAlreadyClosed is returned by Trade.Close on a trade already in the
// closed state.
var ErrAlreadyClosed = &lifecycleError{"trade already closed"}

type lifecycleError struct{ msg string }

func (e *lifecycleError) Error() string { return e.msg }

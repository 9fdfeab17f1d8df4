// Package backtest implements the Backtest Runner from §4.10: a bounded
// historical candle iterator driving the same strategy pipeline and risk
// engine as live trading, routed to a synthetic fill/stop/target broker
// rather than a real one. Grounded on the event-driven backtesting
// engine's shape (atomic running flag, structured logger) adapted here to a single-pass bar walk over decimal candles
// instead of a generic tick/OHLCV event queue.
package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/persistence"
	"github.com/benedict-anokye/forgetrade/internal/sizing"
	"github.com/benedict-anokye/forgetrade/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config bounds one backtest run: the stream under test, a full candle
// history per required granularity (oldest first), and the starting
// simulated equity.
type Config struct {
	Stream         types.StreamConfig
	Histories      map[types.Granularity][]types.Candle
	StartingEquity decimal.Decimal
}

// Stats is the BacktestStats record from §4.10.
type Stats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal
	ProfitFactor  decimal.Decimal
	Sharpe        decimal.Decimal
	MaxDrawdown   decimal.Decimal
	NetPnL        decimal.Decimal
	Trades        []types.Trade
}

// Runner drives backtests. A single Runner may run one backtest at a time;
// Run rejects re-entrant calls.
type Runner struct {
	logger   *zap.Logger
	registry *strategy.Registry
	store    *persistence.Store

	running atomic.Bool
}

// NewRunner constructs a Runner. store may be nil to skip persisting the
// summary row (useful for ad-hoc/what-if runs).
func NewRunner(logger *zap.Logger, registry *strategy.Registry, store *persistence.Store) *Runner {
	return &Runner{logger: logger.Named("backtest-runner"), registry: registry, store: store}
}

type openPosition struct {
	entryIndex int
	direction  types.Direction
	entry      decimal.Decimal
	stop       decimal.Decimal
	target     decimal.Decimal
	units      decimal.Decimal
	reason     string
	equityAtEntry decimal.Decimal
}

// Run executes a backtest end to end and returns its stats. ctx
// cancellation is checked once per bar.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Stats, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("backtest already running on this runner")
	}
	defer r.running.Store(false)

	strat, ok := r.registry.Get(cfg.Stream.StrategyID)
	if !ok {
		return nil, fmt.Errorf("unknown strategy id %q", cfg.Stream.StrategyID)
	}

	drive := driveSeries(cfg)
	if len(drive) < 2 {
		return nil, fmt.Errorf("insufficient drive candles: need at least 2, have %d", len(drive))
	}

	equity := cfg.StartingEquity
	var open []openPosition
	var closed []types.Trade
	equityCurve := []decimal.Decimal{equity}

	for i := 1; i < len(drive); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		bar := drive[i]

		for idx := len(open) - 1; idx >= 0; idx-- {
			pos := open[idx]
			if pos.entryIndex >= i {
				continue
			}
			if exit, reason, hit := checkStopTarget(pos, bar); hit {
				trade, pnl := settleTrade(cfg.Stream, pos, exit, reason, bar.Timestamp)
				closed = append(closed, trade)
				equity = equity.Add(pnl)
				equityCurve = append(equityCurve, equity)
				open = append(open[:idx], open[idx+1:]...)
			}
		}

		if len(open) >= cfg.Stream.MaxConcurrentPositions {
			continue
		}

		windows := windowsUpTo(cfg, drive[i-1].Timestamp)
		result := strat.Evaluate(strategy.Context{Stream: cfg.Stream, Candles: windows, Now: drive[i-1].Timestamp})
		if !result.IsSignal() {
			continue
		}
		sig := *result.Signal

		sizeResult := sizing.Size(cfg.Stream.Instrument, equity, cfg.Stream.RiskPercentPerTrade, sig.Entry, sig.Stop)
		if sizeResult.VetoedOn != "" {
			continue
		}
		unitsSigned := sizeResult.Units
		if sig.Direction == types.Sell {
			unitsSigned = unitsSigned.Neg()
		}

		pos := openPosition{
			entryIndex: i, direction: sig.Direction, entry: bar.Open,
			stop: sig.Stop, target: sig.Target, units: unitsSigned,
			reason: sig.Reason, equityAtEntry: equity,
		}
		if exit, reason, hit := checkStopTarget(pos, bar); hit {
			trade, pnl := settleTrade(cfg.Stream, pos, exit, reason, bar.Timestamp)
			closed = append(closed, trade)
			equity = equity.Add(pnl)
			equityCurve = append(equityCurve, equity)
			continue
		}
		open = append(open, pos)
	}

	lastBar := drive[len(drive)-1]
	for _, pos := range open {
		trade, pnl := settleTrade(cfg.Stream, pos, lastBar.Close, types.ExitManual, lastBar.Timestamp)
		closed = append(closed, trade)
		equity = equity.Add(pnl)
		equityCurve = append(equityCurve, equity)
	}

	stats := computeStats(closed, equityCurve)

	if r.store != nil {
		if err := r.store.InsertBacktestRun(ctx, persistence.BacktestRun{
			Instrument: cfg.Stream.Instrument, StartDate: drive[0].Timestamp, EndDate: lastBar.Timestamp,
			TotalTrades: stats.TotalTrades, WinningTrades: stats.WinningTrades, LosingTrades: stats.LosingTrades,
			WinRate: stats.WinRate, ProfitFactor: stats.ProfitFactor, SharpeRatio: stats.Sharpe,
			MaxDrawdown: stats.MaxDrawdown, NetPnL: stats.NetPnL,
		}); err != nil {
			r.logger.Warn("backtest summary persistence failed", zap.Error(err))
		}
	}

	return stats, nil
}

// checkStopTarget evaluates one bar's range against a position, stop
// checked before target for pessimism per §4.10.
func checkStopTarget(pos openPosition, bar types.Candle) (exit decimal.Decimal, reason types.ExitReason, hit bool) {
	if pos.direction == types.Buy {
		if bar.Low.LessThanOrEqual(pos.stop) {
			return pos.stop, types.ExitStopLoss, true
		}
		if bar.High.GreaterThanOrEqual(pos.target) {
			return pos.target, types.ExitTakeProfit, true
		}
		return decimal.Zero, "", false
	}
	if bar.High.GreaterThanOrEqual(pos.stop) {
		return pos.stop, types.ExitStopLoss, true
	}
	if bar.Low.LessThanOrEqual(pos.target) {
		return pos.target, types.ExitTakeProfit, true
	}
	return decimal.Zero, "", false
}

func settleTrade(cfg types.StreamConfig, pos openPosition, exit decimal.Decimal, reason types.ExitReason, closedAt time.Time) (types.Trade, decimal.Decimal) {
	pnl := exit.Sub(pos.entry).Mul(pos.units)
	trade := types.Trade{
		StreamName: cfg.Name, Mode: types.ModeBacktest, Direction: pos.direction,
		Instrument: cfg.Instrument, EntryPrice: pos.entry, ExitPrice: exit, HasExit: true,
		Stop: pos.stop, Target: pos.target, Units: pos.units, EntryReason: pos.reason,
		ExitReason: reason, PnL: pnl, Status: types.StatusClosed,
		OpenedAt: closedAt, ClosedAt: closedAt,
	}
	return trade, pnl
}

// driveSeries picks the finest-granularity history present as the bar-walk
// driver; strategies consume the coarser series through windowsUpTo.
func driveSeries(cfg Config) []types.Candle {
	finest := types.Granularity("")
	var finestDur time.Duration
	for _, g := range cfg.Stream.Granularities {
		d := granularityDuration(g)
		if finest == "" || d < finestDur {
			finest, finestDur = g, d
		}
	}
	return cfg.Histories[finest]
}

func granularityDuration(g types.Granularity) time.Duration {
	switch g {
	case types.M1:
		return time.Minute
	case types.M5:
		return 5 * time.Minute
	case types.M15:
		return 15 * time.Minute
	case types.H1:
		return time.Hour
	case types.H4:
		return 4 * time.Hour
	case types.D1:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// windowsUpTo builds the per-granularity candle windows a strategy sees at
// time t: every seeded candle with a timestamp no later than t, preventing
// lookahead.
func windowsUpTo(cfg Config, t time.Time) map[types.Granularity][]types.Candle {
	out := make(map[types.Granularity][]types.Candle, len(cfg.Stream.Granularities))
	for _, g := range cfg.Stream.Granularities {
		series := cfg.Histories[g]
		idx := sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(t) })
		window := make([]types.Candle, idx)
		copy(window, series[:idx])
		out[g] = window
	}
	return out
}

func computeStats(trades []types.Trade, equityCurve []decimal.Decimal) *Stats {
	stats := &Stats{Trades: trades, TotalTrades: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	grossWin := decimal.Zero
	grossLoss := decimal.Zero
	netPnL := decimal.Zero
	returns := make([]float64, 0, len(trades))

	for _, t := range trades {
		netPnL = netPnL.Add(t.PnL)
		if t.PnL.GreaterThan(decimal.Zero) {
			stats.WinningTrades++
			grossWin = grossWin.Add(t.PnL)
		} else if t.PnL.LessThan(decimal.Zero) {
			stats.LosingTrades++
			grossLoss = grossLoss.Add(t.PnL.Abs())
		}
		entryNotional := t.EntryPrice.Mul(t.Units).Abs()
		if entryNotional.IsPositive() {
			returns = append(returns, t.PnL.Div(entryNotional).InexactFloat64())
		}
	}

	stats.NetPnL = netPnL
	stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).Div(decimal.NewFromInt(int64(stats.TotalTrades))).Mul(decimal.NewFromInt(100))
	if grossLoss.IsPositive() {
		stats.ProfitFactor = grossWin.Div(grossLoss)
	} else if grossWin.IsPositive() {
		stats.ProfitFactor = decimal.NewFromInt(0) // undefined (no losing trades); reported as 0 sentinel
	}
	stats.Sharpe = decimal.NewFromFloat(sharpeRatio(returns))
	stats.MaxDrawdown = maxDrawdownPct(equityCurve)
	return stats
}

func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}

func maxDrawdownPct(equityCurve []decimal.Decimal) decimal.Decimal {
	if len(equityCurve) == 0 {
		return decimal.Zero
	}
	peak := equityCurve[0]
	maxDD := decimal.Zero
	for _, e := range equityCurve {
		if e.GreaterThan(peak) {
			peak = e
		}
		if peak.IsZero() {
			continue
		}
		dd := peak.Sub(e).Div(peak).Mul(decimal.NewFromInt(100))
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// Package status implements the Status Projection from §4.11: a read-only
// aggregator building a consistent snapshot of per-stream status, open
// positions, recent closed trades, recent signal evaluations, and
// per-stream insight diagnostics. It never blocks a trading engine — every
// read goes through the engine manager's published snapshots or the
// persistence layer's own read path, never a shared engine-side lock.
package status

import (
	"context"
	"time"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/engine"
	"github.com/benedict-anokye/forgetrade/internal/persistence"
	"github.com/benedict-anokye/forgetrade/internal/risk"
	"github.com/benedict-anokye/forgetrade/internal/sizing"
	"github.com/benedict-anokye/forgetrade/internal/strategy"
)

// StreamStatus is one stream's current published state.
type StreamStatus struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	OpenTradeCount int       `json:"open_trade_count"`
	LastError      string    `json:"last_error,omitempty"`
}

// SignalEvent is one published evaluation outcome, veto or signal.
type SignalEvent struct {
	StreamName string             `json:"stream_name"`
	At         time.Time          `json:"at"`
	Signal     *types.EntrySignal `json:"signal,omitempty"`
	Veto       *types.VetoInfo    `json:"veto,omitempty"`
}

// Insight is the per-stream diagnostic view answering "why not traded":
// the strategy's recognized gate names plus the most recent veto's
// per-gate results.
type Insight struct {
	StreamName string               `json:"stream_name"`
	StrategyID string               `json:"strategy_id"`
	GateNames  []string             `json:"gate_names"`
	LastGates  []types.GateResult   `json:"last_gates,omitempty"`
	LastReason string               `json:"last_reason,omitempty"`
	Kelly      *sizing.SizingResult `json:"kelly,omitempty"`
}

// Projection aggregates engine, persistence, and drawdown state for the
// Status API. Every method is non-blocking with respect to trading
// engines: it reads already-published snapshots or issues its own
// persistence query.
type Projection struct {
	manager  *engine.Manager
	store    *persistence.Store
	drawdown *risk.DrawdownSupervisor
	registry *strategy.Registry
}

// New constructs a Projection over the shared manager, store, supervisor,
// and strategy registry references — the same instances injected into
// every Trading Engine, per §9's explicit-dependency rule.
func New(manager *engine.Manager, store *persistence.Store, drawdown *risk.DrawdownSupervisor, registry *strategy.Registry) *Projection {
	return &Projection{manager: manager, store: store, drawdown: drawdown, registry: registry}
}

// Streams returns every stream's current published status.
func (p *Projection) Streams() []StreamStatus {
	snapshots := p.manager.Snapshot()
	out := make([]StreamStatus, 0, len(snapshots))
	for name, snap := range snapshots {
		out = append(out, StreamStatus{
			Name: name, State: string(snap.State), LastCycleAt: snap.LastCycleAt,
			OpenTradeCount: snap.OpenTradeCount, LastError: snap.LastError,
		})
	}
	return out
}

// Positions returns every currently open trade across every stream.
func (p *Projection) Positions(ctx context.Context) ([]types.Trade, error) {
	return p.store.AllOpenTrades(ctx)
}

// PendingSignals returns the latest evaluation per stream that produced a
// tradable signal but has not yet resolved to OrderOpen or back to
// Polling — i.e. streams currently in Sizing or Placing.
func (p *Projection) PendingSignals() []SignalEvent {
	snapshots := p.manager.Snapshot()
	var out []SignalEvent
	for name, snap := range snapshots {
		if (snap.State == engine.StateSizing || snap.State == engine.StatePlacing) && snap.LastSignal != nil {
			out = append(out, SignalEvent{StreamName: name, At: snap.LastCycleAt, Signal: snap.LastSignal})
		}
	}
	return out
}

// SignalHistory returns the bounded recent history of every stream's
// evaluation outcomes (signal or veto), most recent last per stream.
func (p *Projection) SignalHistory() []SignalEvent {
	var out []SignalEvent
	for name, snaps := range p.manager.History() {
		for _, snap := range snaps {
			if snap.LastSignal == nil && snap.LastVeto == nil {
				continue
			}
			out = append(out, SignalEvent{StreamName: name, At: snap.LastCycleAt, Signal: snap.LastSignal, Veto: snap.LastVeto})
		}
	}
	return out
}

// ClosedTrades returns the most recent closed trades across every stream,
// bounded by limit.
func (p *Projection) ClosedTrades(ctx context.Context, limit int) ([]types.Trade, error) {
	return p.store.ClosedTrades(ctx, limit)
}

// Account returns the shared Drawdown Supervisor's current account view.
func (p *Projection) Account() types.AccountState {
	return p.drawdown.Snapshot()
}

// Insights returns the latest "why not traded" diagnostic for every
// stream, keyed by stream name.
func (p *Projection) Insights() []Insight {
	var out []Insight
	for name, snaps := range p.manager.History() {
		if len(snaps) == 0 {
			continue
		}
		cfg, _ := p.manager.StreamConfig(name)
		insight := Insight{StreamName: name, StrategyID: cfg.StrategyID}
		if strat, ok := p.registry.Get(cfg.StrategyID); ok {
			insight.GateNames = strat.GateNames()
		}

		latest := snaps[len(snaps)-1]
		if latest.LastVeto != nil {
			insight.LastGates = latest.LastVeto.Gates
			insight.LastReason = latest.LastVeto.Reason
		}
		if latest.LastSignal != nil {
			if sizer, ok := p.manager.Sizer(name); ok {
				account := p.drawdown.Snapshot()
				insight.Kelly = sizer.CalculateSize(&sizing.SizingRequest{
					PortfolioValue: account.Equity,
					CurrentPrice:   latest.LastSignal.Entry,
					StopLoss:       latest.LastSignal.Stop,
					TakeProfit:     latest.LastSignal.Target,
					Confidence:     1,
				})
			}
		}
		out = append(out, insight)
	}
	return out
}

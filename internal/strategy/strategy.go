// Package strategy implements the Strategy Pipeline: an abstract gate-based
// evaluation contract plus the three concrete strategies (S/R rejection,
// momentum scalp, mean reversion). Every strategy is a fixed ordered
// sequence of gates; the first gate that rejects returns a Veto carrying
// the reason and the diagnostic results gathered up to that point.
package strategy

import (
	"time"

	"github.com/benedict-anokye/forgetrade/internal/core/types"
)

// Context is everything a strategy needs to evaluate one cycle: pre-fetched
// candle series keyed by granularity (oldest first), the owning stream's
// configuration, and the evaluation timestamp.
type Context struct {
	Stream  types.StreamConfig
	Candles map[types.Granularity][]types.Candle
	Now     time.Time
}

// Strategy is the pipeline contract every concrete strategy implements:
// one evaluate method plus the gate names it recognizes, so the status
// projection can explain "why not traded".
type Strategy interface {
	ID() string
	GateNames() []string
	Evaluate(ctx Context) types.StrategyResult
}

// Registry resolves a stream's configured strategy identifier to a
// Strategy instance. Strategies are registered by identifier at process
// start; they carry no per-cycle mutable state so a single instance is
// shared across all streams that name it.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a registry pre-populated with the three built-in
// strategies.
func NewRegistry() *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register(NewSRRejection())
	r.Register(NewMomentumScalp())
	r.Register(NewMeanReversion())
	return r
}

// Register adds or replaces a strategy under its own ID.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.ID()] = s
}

// Get resolves a strategy identifier; ok is false for unregistered IDs,
// which boot-time validation treats as a configuration error.
func (r *Registry) Get(id string) (Strategy, bool) {
	s, ok := r.strategies[id]
	return s, ok
}

// IDs returns every registered strategy identifier.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	return ids
}

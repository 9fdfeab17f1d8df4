package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/benedict-anokye/forgetrade/internal/broker"
	coreerrors "github.com/benedict-anokye/forgetrade/internal/core/errors"
	"github.com/benedict-anokye/forgetrade/internal/core/types"
	"github.com/benedict-anokye/forgetrade/internal/persistence"
	"github.com/benedict-anokye/forgetrade/internal/risk"
	"github.com/benedict-anokye/forgetrade/internal/sizing"
	"github.com/benedict-anokye/forgetrade/internal/strategy"
	"go.uber.org/zap"
)

// Manager owns a set of StreamEngines keyed by stream name, per §4.9. It
// is the sole fan-out point for start/stop/pause/resume and aggregates
// per-stream equity changes into the shared Drawdown Supervisor (each
// engine already holds the same supervisor reference; Manager's role is
// construction and lifecycle, not a second write path).
type Manager struct {
	logger   *zap.Logger
	registry *strategy.Registry
	drawdown *risk.DrawdownSupervisor
	breakers *risk.BreakerFactory
	store    *persistence.Store
	brk      broker.Broker
	mode     types.Mode

	mu      sync.RWMutex
	engines map[string]*StreamEngine
}

// NewManager constructs an empty Manager. Streams are added with
// AddStream before StartAll.
func NewManager(
	logger *zap.Logger,
	registry *strategy.Registry,
	drawdown *risk.DrawdownSupervisor,
	breakers *risk.BreakerFactory,
	store *persistence.Store,
	brk broker.Broker,
	mode types.Mode,
) *Manager {
	return &Manager{
		logger:   logger.Named("engine-manager"),
		registry: registry,
		drawdown: drawdown,
		breakers: breakers,
		store:    store,
		brk:      brk,
		mode:     mode,
		engines:  make(map[string]*StreamEngine),
	}
}

// AddStream constructs and registers a StreamEngine for cfg. Returns a
// ConfigError-wrapping error if the strategy id is unregistered (boot-time
// validation per §9).
func (m *Manager) AddStream(cfg types.StreamConfig) error {
	if _, ok := m.registry.Get(cfg.StrategyID); !ok {
		return &coreerrors.ConfigError{
			Field: "strategy_id",
			Err:   fmt.Errorf("stream %q references unknown strategy %q", cfg.Name, cfg.StrategyID),
		}
	}
	eng := New(m.logger, cfg, m.mode, m.registry, m.drawdown, m.breakers, m.store, m.brk)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.engines[cfg.Name] = eng
	return nil
}

// StartAll starts every enabled registered stream.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, eng := range m.engines {
		if !eng.config().Enabled {
			m.logger.Info("skipping disabled stream", zap.String("stream", name))
			continue
		}
		eng.Start(ctx)
	}
}

// StopAll stops every engine and blocks until each has terminated.
func (m *Manager) StopAll() {
	m.mu.RLock()
	engines := make([]*StreamEngine, 0, len(m.engines))
	for _, eng := range m.engines {
		engines = append(engines, eng)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, eng := range engines {
		wg.Add(1)
		go func(e *StreamEngine) {
			defer wg.Done()
			e.Stop()
		}(eng)
	}
	wg.Wait()
}

// EmergencyStop stops every engine, then force-closes every open position
// each engine was shadowing, through the broker, per §5. Returns the total
// number of positions closed.
func (m *Manager) EmergencyStop(ctx context.Context) int {
	m.StopAll()

	m.mu.RLock()
	engines := make([]*StreamEngine, 0, len(m.engines))
	for _, eng := range m.engines {
		engines = append(engines, eng)
	}
	m.mu.RUnlock()

	total := 0
	for _, eng := range engines {
		total += eng.CloseAllOpen(ctx)
	}
	return total
}

// PauseAll pauses every engine.
func (m *Manager) PauseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, eng := range m.engines {
		eng.Pause()
	}
}

// ResumeAll resumes every paused engine.
func (m *Manager) ResumeAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, eng := range m.engines {
		eng.Resume()
	}
}

// Pause pauses a single named stream.
func (m *Manager) Pause(name string) error {
	eng, ok := m.engine(name)
	if !ok {
		return fmt.Errorf("unknown stream %q", name)
	}
	eng.Pause()
	return nil
}

// Resume resumes a single named stream.
func (m *Manager) Resume(name string) error {
	eng, ok := m.engine(name)
	if !ok {
		return fmt.Errorf("unknown stream %q", name)
	}
	eng.Resume()
	return nil
}

// ApplySettings replaces a stream's configuration, effective at its next
// cycle boundary.
func (m *Manager) ApplySettings(cfg types.StreamConfig) error {
	eng, ok := m.engine(cfg.Name)
	if !ok {
		return fmt.Errorf("unknown stream %q", cfg.Name)
	}
	eng.ApplySettings(cfg)
	return nil
}

func (m *Manager) engine(name string) (*StreamEngine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	eng, ok := m.engines[name]
	return eng, ok
}

// Snapshot returns the latest published state of every stream, keyed by
// stream name, for the status projection (§4.11). Non-blocking: readers
// accept slightly stale values.
func (m *Manager) Snapshot() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.engines))
	for name, eng := range m.engines {
		out[name] = eng.Snapshot()
	}
	return out
}

// DrawdownSnapshot exposes the shared account state for the status
// projection without giving callers direct access to the supervisor.
func (m *Manager) DrawdownSnapshot() types.AccountState {
	return m.drawdown.Snapshot()
}

// History returns the bounded recent-snapshot history of every stream,
// keyed by stream name, for the /signals/history and /strategy/insight
// endpoints.
func (m *Manager) History() map[string][]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]Snapshot, len(m.engines))
	for name, eng := range m.engines {
		out[name] = eng.History()
	}
	return out
}

// StreamConfig returns the current configuration of a named stream.
func (m *Manager) StreamConfig(name string) (types.StreamConfig, bool) {
	eng, ok := m.engine(name)
	if !ok {
		return types.StreamConfig{}, false
	}
	return eng.config(), true
}

// Sizer returns a named stream's advisory Kelly sizer, for the status
// projection's diagnostics only (§4.5/§10) — never consulted on the live
// order path.
func (m *Manager) Sizer(name string) (*sizing.PositionSizer, bool) {
	eng, ok := m.engine(name)
	if !ok {
		return nil, false
	}
	return eng.Sizer(), true
}

// StreamNames returns every registered stream's name.
func (m *Manager) StreamNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.engines))
	for name := range m.engines {
		out = append(out, name)
	}
	return out
}

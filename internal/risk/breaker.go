package risk

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerFactory lazily creates and caches a per-stream gobreaker circuit
// breaker for broker calls, isolating transient-error storms independently
// of the money-based DrawdownSupervisor latch above. Grounded on the
// factory/lazy-map pattern used for fx-wired circuit breakers elsewhere in
// the pack, adapted here to plain constructor injection (no DI framework)
// and to record state transitions as prometheus metrics rather than a
// hand-rolled counter map.
type BreakerFactory struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker

	stateChanges *prometheus.CounterVec
}

// NewBreakerFactory constructs a BreakerFactory. reg may be nil, in which
// case metrics are not registered (useful in tests).
func NewBreakerFactory(logger *zap.Logger, reg prometheus.Registerer) *BreakerFactory {
	f := &BreakerFactory{
		logger:   logger.Named("broker-circuit-breaker"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "forgetrade_broker_breaker_state_changes_total",
			Help: "Circuit breaker state transitions per stream, by destination state.",
		}, []string{"stream", "to"}),
	}
	if reg != nil {
		reg.MustRegister(f.stateChanges)
	}
	return f
}

// defaultSettings mirrors the pack's broker-call breaker tuning: trip once
// at least 10 requests have been seen and the failure ratio reaches 0.5,
// cool down for 60s, allow 5 probe requests in the half-open state.
func (f *BreakerFactory) defaultSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("broker circuit breaker state changed",
				zap.String("stream", name), zap.String("from", from.String()), zap.String("to", to.String()))
			f.stateChanges.WithLabelValues(name, to.String()).Inc()
		},
	}
}

// For returns (creating if absent) the circuit breaker for a named stream.
func (f *BreakerFactory) For(streamName string) *gobreaker.CircuitBreaker {
	f.mu.RLock()
	cb, ok := f.breakers[streamName]
	f.mu.RUnlock()
	if ok {
		return cb
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok = f.breakers[streamName]; ok {
		return cb
	}
	cb = gobreaker.NewCircuitBreaker(f.defaultSettings(streamName))
	f.breakers[streamName] = cb
	return cb
}

// Execute runs fn through the named stream's breaker.
func (f *BreakerFactory) Execute(streamName string, fn func() (interface{}, error)) (interface{}, error) {
	return f.For(streamName).Execute(fn)
}

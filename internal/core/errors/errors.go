// Package errors defines the typed error kinds from the error handling
// design: configuration, broker transient/permanent, invariant violation,
// and persistence conflict. Callers use errors.As to branch on kind; the
// engine's cycle loop treats each kind per its documented disposition.
package errors

import "fmt"

// ConfigError is a fatal-at-boot configuration problem.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// BrokerTransientError marks a broker call as retryable (5xx, 429, network,
// timeout).
type BrokerTransientError struct {
	Op  string
	Err error
}

func (e *BrokerTransientError) Error() string {
	return fmt.Sprintf("broker transient error during %s: %v", e.Op, e.Err)
}

func (e *BrokerTransientError) Unwrap() error { return e.Err }

// BrokerPermanentError fails the current cycle without retry (4xx except
// 429).
type BrokerPermanentError struct {
	Op  string
	Err error
}

func (e *BrokerPermanentError) Error() string {
	return fmt.Sprintf("broker permanent error during %s: %v", e.Op, e.Err)
}

func (e *BrokerPermanentError) Unwrap() error { return e.Err }

// InvariantViolation marks a bug, such as closing a trade row that is
// already closed. The engine logs it and keeps running; no engine is
// halted on it.
type InvariantViolation struct {
	Component string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Component, e.Detail)
}

// PersistenceConflict is a write conflict; the caller retries once before
// escalating to an InvariantViolation.
type PersistenceConflict struct {
	Op  string
	Err error
}

func (e *PersistenceConflict) Error() string {
	return fmt.Sprintf("persistence conflict during %s: %v", e.Op, e.Err)
}

func (e *PersistenceConflict) Unwrap() error { return e.Err }

// CircuitBreakerActive is the non-error Veto surfaced when the Drawdown
// Supervisor has latched.
var CircuitBreakerActive = fmt.Errorf("circuit breaker active")

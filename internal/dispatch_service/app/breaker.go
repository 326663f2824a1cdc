package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pulsegate/pulsegate/internal/dispatch_service/domain"
	"github.com/pulsegate/pulsegate/internal/platform/cache"
)

// CircuitState is the per-provider breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// BreakerSettings parameterizes one CircuitBreaker instance.
type BreakerSettings struct {
	// FailureThreshold consecutive failures in closed state trip the circuit.
	FailureThreshold int
	// SuccessThreshold consecutive successes in half_open close it again.
	SuccessThreshold int
	// MaxTrials caps concurrent probe attempts while half_open.
	MaxTrials int
	// Timeout is how long an open circuit waits before probing.
	Timeout time.Duration
	// StateTTL bounds cache growth. Must exceed Timeout or an open circuit
	// would silently reset mid recovery window.
	StateTTL time.Duration
}

// CircuitStatus is the read-only view returned to operators.
type CircuitStatus struct {
	Service       string       `json:"service"`
	State         CircuitState `json:"state"`
	Failures      int64        `json:"failures"`
	Successes     int64        `json:"successes"`
	Trials        int64        `json:"trials"`
	LastFailureAt *time.Time   `json:"last_failure_at,omitempty"`
	// RecoveryAt estimates when an open circuit starts probing again.
	RecoveryAt *time.Time `json:"recovery_at,omitempty"`
}

// CircuitBreaker guards one provider service. All state lives in the shared
// cache so every worker handling the provider sees the same circuit; counters
// that feed threshold decisions only move through the cache's atomic increment.
type CircuitBreaker struct {
	service  string
	settings BreakerSettings
	cache    cache.Cache
	events   domain.EventSink
	logger   *slog.Logger
	now      func() time.Time
}

// NewCircuitBreaker creates a breaker scoped to the given provider service name.
func NewCircuitBreaker(service string, settings BreakerSettings, c cache.Cache, events domain.EventSink, logger *slog.Logger) *CircuitBreaker {
	if settings.StateTTL <= settings.Timeout {
		settings.StateTTL = settings.Timeout + 24*time.Hour
	}
	return &CircuitBreaker{
		service:  service,
		settings: settings,
		cache:    c,
		events:   events,
		logger:   logger.With("service", "circuit_breaker", "provider", service),
		now:      time.Now,
	}
}

func (cb *CircuitBreaker) key(suffix string) string {
	return fmt.Sprintf("circuit:%s:%s", cb.service, suffix)
}

func (cb *CircuitBreaker) state(ctx context.Context) (CircuitState, error) {
	val, ok, err := cb.cache.Get(ctx, cb.key("state"))
	if err != nil {
		return CircuitClosed, err
	}
	if !ok {
		return CircuitClosed, nil
	}
	return CircuitState(val), nil
}

func (cb *CircuitBreaker) setState(ctx context.Context, state CircuitState) error {
	return cb.cache.Put(ctx, cb.key("state"), string(state), cb.settings.StateTTL)
}

func (cb *CircuitBreaker) counter(ctx context.Context, suffix string) (int64, error) {
	val, ok, err := cb.cache.Get(ctx, cb.key(suffix))
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil // treat garbage as absent rather than wedging the circuit
	}
	return n, nil
}

func (cb *CircuitBreaker) lastFailureAt(ctx context.Context) (time.Time, bool, error) {
	val, ok, err := cb.cache.Get(ctx, cb.key("last_failure"))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

// IsAvailable reports whether a send attempt may proceed. In open state it
// lazily transitions to half_open once the timeout has elapsed; in half_open it
// atomically claims one of the MaxTrials probe slots.
func (cb *CircuitBreaker) IsAvailable(ctx context.Context) (bool, error) {
	state, err := cb.state(ctx)
	if err != nil {
		return false, err
	}

	switch state {
	case CircuitClosed:
		return true, nil

	case CircuitOpen:
		lastFailure, ok, err := cb.lastFailureAt(ctx)
		if err != nil {
			return false, err
		}
		if ok && cb.now().Sub(lastFailure) < cb.settings.Timeout {
			return false, nil
		}
		if err := cb.transition(ctx, CircuitOpen, CircuitHalfOpen); err != nil {
			return false, err
		}
		if err := cb.cache.Forget(ctx, cb.key("trials")); err != nil {
			return false, err
		}
		if err := cb.cache.Forget(ctx, cb.key("successes")); err != nil {
			return false, err
		}
		fallthrough

	case CircuitHalfOpen:
		trials, err := cb.cache.Increment(ctx, cb.key("trials"), cb.settings.StateTTL)
		if err != nil {
			return false, err
		}
		if trials > int64(cb.settings.MaxTrials) {
			// Reject the overflow probe: without this cap every queued worker
			// would stampede the provider the moment the timeout elapses.
			return false, nil
		}
		return true, nil
	}

	return false, fmt.Errorf("unknown circuit state %q for provider %s", state, cb.service)
}

// RecordSuccess registers a successful send.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) error {
	state, err := cb.state(ctx)
	if err != nil {
		return err
	}

	switch state {
	case CircuitHalfOpen:
		successes, err := cb.cache.Increment(ctx, cb.key("successes"), cb.settings.StateTTL)
		if err != nil {
			return err
		}
		if successes >= int64(cb.settings.SuccessThreshold) {
			if err := cb.clearCounters(ctx); err != nil {
				return err
			}
			return cb.transition(ctx, CircuitHalfOpen, CircuitClosed)
		}
		return nil

	case CircuitClosed:
		// A success ends the consecutive-failure streak.
		return cb.cache.Forget(ctx, cb.key("failures"))

	default:
		// Open: unreachable when callers gate on IsAvailable.
		return nil
	}
}

// RecordFailure registers a failed send.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context) error {
	if err := cb.cache.Put(ctx, cb.key("last_failure"),
		strconv.FormatInt(cb.now().UnixNano(), 10), cb.settings.StateTTL); err != nil {
		return err
	}

	state, err := cb.state(ctx)
	if err != nil {
		return err
	}

	switch state {
	case CircuitHalfOpen:
		// Half_open tolerates no failure at all.
		if err := cb.cache.Forget(ctx, cb.key("successes")); err != nil {
			return err
		}
		if err := cb.cache.Forget(ctx, cb.key("trials")); err != nil {
			return err
		}
		return cb.transition(ctx, CircuitHalfOpen, CircuitOpen)

	case CircuitClosed:
		failures, err := cb.cache.Increment(ctx, cb.key("failures"), cb.settings.StateTTL)
		if err != nil {
			return err
		}
		if failures >= int64(cb.settings.FailureThreshold) {
			return cb.transition(ctx, CircuitClosed, CircuitOpen)
		}
		return nil

	default:
		return nil
	}
}

// Reset force-closes the circuit and clears all counters. Administrative
// override only.
func (cb *CircuitBreaker) Reset(ctx context.Context) error {
	if err := cb.clearCounters(ctx); err != nil {
		return err
	}
	if err := cb.cache.Forget(ctx, cb.key("last_failure")); err != nil {
		return err
	}
	return cb.transition(ctx, "", CircuitClosed)
}

// Status returns the operator view of the circuit.
func (cb *CircuitBreaker) Status(ctx context.Context) (CircuitStatus, error) {
	state, err := cb.state(ctx)
	if err != nil {
		return CircuitStatus{}, err
	}
	status := CircuitStatus{Service: cb.service, State: state}

	if status.Failures, err = cb.counter(ctx, "failures"); err != nil {
		return CircuitStatus{}, err
	}
	if status.Successes, err = cb.counter(ctx, "successes"); err != nil {
		return CircuitStatus{}, err
	}
	if status.Trials, err = cb.counter(ctx, "trials"); err != nil {
		return CircuitStatus{}, err
	}

	lastFailure, ok, err := cb.lastFailureAt(ctx)
	if err != nil {
		return CircuitStatus{}, err
	}
	if ok {
		status.LastFailureAt = &lastFailure
		if state == CircuitOpen {
			recovery := lastFailure.Add(cb.settings.Timeout)
			status.RecoveryAt = &recovery
		}
	}
	return status, nil
}

func (cb *CircuitBreaker) clearCounters(ctx context.Context) error {
	for _, suffix := range []string{"failures", "successes", "trials"} {
		if err := cb.cache.Forget(ctx, cb.key(suffix)); err != nil {
			return err
		}
	}
	return nil
}

func (cb *CircuitBreaker) transition(ctx context.Context, from, to CircuitState) error {
	if err := cb.setState(ctx, to); err != nil {
		return err
	}
	cb.logger.InfoContext(ctx, "Circuit state transition", "from", string(from), "to", string(to))
	circuitTransitionsCounter.WithLabelValues(cb.service, string(to)).Inc()
	cb.events.Emit(ctx, domain.Event{
		Type:       domain.EventCircuitStateTransition,
		Service:    cb.service,
		Attributes: map[string]string{"from": string(from), "to": string(to)},
		OccurredAt: cb.now().UTC(),
	})
	return nil
}

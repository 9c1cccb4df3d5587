// Package circuitbreaker implements the drawdown-driven three-state
// automaton of spec.md §4.C. Grounded directly on
// _examples/original_source/services/risk/circuit_breaker.py: the exact
// threshold precedence (total halt, then daily halt, then warning, then
// recovery), the one-shot HALF_OPEN transition, and the requirement that
// OPEN -> CLOSED only happens through an admin-coded reset that also clears
// the kill switch.
package circuitbreaker

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"sync"
	"time"

	"github.com/cairnfi/execore/domain"
	"github.com/cairnfi/execore/killswitch"
	"github.com/cairnfi/execore/notify"
)

// State is the circuit breaker's tri-state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateHalfOpen State = "HALF_OPEN"
	StateOpen     State = "OPEN"
)

// ErrNotOpen is returned by Reset when the breaker is not currently tripped.
var ErrNotOpen = errors.New("circuitbreaker: not in OPEN state")

// Thresholds are the four percentage thresholds that drive transitions.
type Thresholds struct {
	DailyWarnPct  decimal.Decimal
	DailyHaltPct  decimal.Decimal
	TotalWarnPct  decimal.Decimal
	TotalHaltPct  decimal.Decimal
}

// DefaultThresholds matches circuit_breaker.py's constructor defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DailyWarnPct: decimal.NewFromFloat(2.0),
		DailyHaltPct: decimal.NewFromFloat(3.0),
		TotalWarnPct: decimal.NewFromFloat(8.0),
		TotalHaltPct: decimal.NewFromFloat(10.0),
	}
}

// Event is an audit record of one state transition.
type Event struct {
	EventID   uuid.UUID
	EventType string // "warning", "tripped", "reset"
	FromState State
	ToState   State
	Trigger   string
	Value     string
	Threshold string
	Timestamp time.Time
}

// CircuitBreaker is the mutex-guarded automaton. It holds a reference to a
// KillSwitch so it can call ActivateGlobal on trip and must go through
// DeactivateGlobal on reset, matching circuit_breaker.py's composition.
type CircuitBreaker struct {
	mu sync.RWMutex

	kill       *killswitch.KillSwitch
	thresholds Thresholds
	alerts     notify.AlertSink

	state            State
	stateChangedAt   time.Time
	tripReason       string
	currentDailyDD   decimal.Decimal
	currentTotalDD   decimal.Decimal

	events []Event
}

// New builds a CircuitBreaker wired to the given kill switch.
func New(kill *killswitch.KillSwitch, thresholds Thresholds) *CircuitBreaker {
	return &CircuitBreaker{
		kill:           kill,
		thresholds:     thresholds,
		alerts:         notify.NoopSink{},
		state:          StateClosed,
		stateChangedAt: domain.Now(),
	}
}

// SetAlertSink wires an operator-facing notification channel.
func (c *CircuitBreaker) SetAlertSink(sink notify.AlertSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = sink
}

// State returns the current automaton state.
func (c *CircuitBreaker) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsTripped reports OPEN.
func (c *CircuitBreaker) IsTripped() bool { return c.State() == StateOpen }

// IsWarning reports HALF_OPEN.
func (c *CircuitBreaker) IsWarning() bool { return c.State() == StateHalfOpen }

// IsNormal reports CLOSED.
func (c *CircuitBreaker) IsNormal() bool { return c.State() == StateClosed }

// UpdateDrawdown feeds current daily/total drawdown percentages and performs
// at most one transition, returning the resulting state. Precedence,
// verbatim from circuit_breaker.py:
//  1. total >= total halt, or daily >= daily halt -> OPEN, activate kill switch.
//     (total checked first; if both would trip, the total-drawdown event wins
//     and is recorded, matching the source's if/elif chain.)
//  2. else if total >= total warn or daily >= daily warn, and currently
//     CLOSED -> HALF_OPEN (one-shot: no-op if already HALF_OPEN or OPEN).
//  3. else if currently HALF_OPEN -> CLOSED (recovery).
func (c *CircuitBreaker) UpdateDrawdown(dailyDD, totalDD decimal.Decimal) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.currentDailyDD = dailyDD
	c.currentTotalDD = totalDD

	switch {
	case totalDD.GreaterThanOrEqual(c.thresholds.TotalHaltPct):
		c.transitionLocked(StateOpen,
			fmt.Sprintf("total drawdown of %s%% exceeded halt threshold", totalDD),
			totalDD.String()+"%", c.thresholds.TotalHaltPct.String()+"%")
		c.kill.ActivateGlobal(
			fmt.Sprintf("circuit breaker: total drawdown %s%% >= %s%%", totalDD, c.thresholds.TotalHaltPct),
			"circuit_breaker")

	case dailyDD.GreaterThanOrEqual(c.thresholds.DailyHaltPct):
		c.transitionLocked(StateOpen,
			fmt.Sprintf("daily drawdown of %s%% exceeded halt threshold", dailyDD),
			dailyDD.String()+"%", c.thresholds.DailyHaltPct.String()+"%")
		c.kill.ActivateGlobal(
			fmt.Sprintf("circuit breaker: daily drawdown %s%% >= %s%%", dailyDD, c.thresholds.DailyHaltPct),
			"circuit_breaker")

	case totalDD.GreaterThanOrEqual(c.thresholds.TotalWarnPct) || dailyDD.GreaterThanOrEqual(c.thresholds.DailyWarnPct):
		if c.state == StateClosed {
			var triggers []string
			if dailyDD.GreaterThanOrEqual(c.thresholds.DailyWarnPct) {
				triggers = append(triggers, fmt.Sprintf("daily drawdown %s%%", dailyDD))
			}
			if totalDD.GreaterThanOrEqual(c.thresholds.TotalWarnPct) {
				triggers = append(triggers, fmt.Sprintf("total drawdown %s%%", totalDD))
			}
			msg := "warning: "
			for i, t := range triggers {
				if i > 0 {
					msg += ", "
				}
				msg += t
			}
			msg += " approaching halt threshold"
			c.transitionLocked(StateHalfOpen, msg,
				fmt.Sprintf("daily=%s%%, total=%s%%", dailyDD, totalDD),
				fmt.Sprintf("daily_warn=%s%%, total_warn=%s%%", c.thresholds.DailyWarnPct, c.thresholds.TotalWarnPct))
		}

	case c.state == StateHalfOpen:
		c.transitionLocked(StateClosed, "drawdown improved below warning thresholds",
			fmt.Sprintf("daily=%s%%, total=%s%%", dailyDD, totalDD),
			fmt.Sprintf("daily_warn=%s%%, total_warn=%s%%", c.thresholds.DailyWarnPct, c.thresholds.TotalWarnPct))
	}

	return c.state
}

// transitionLocked records and applies a state change. Caller must hold mu.
func (c *CircuitBreaker) transitionLocked(newState State, trigger, value, threshold string) {
	if newState == c.state {
		return
	}
	eventType := "reset"
	switch newState {
	case StateOpen:
		eventType = "tripped"
	case StateHalfOpen:
		eventType = "warning"
	}
	ev := Event{
		EventID:   uuid.New(),
		EventType: eventType,
		FromState: c.state,
		ToState:   newState,
		Trigger:   trigger,
		Value:     value,
		Threshold: threshold,
		Timestamp: domain.Now(),
	}
	c.events = append(c.events, ev)
	c.state = newState
	c.stateChangedAt = domain.Now()
	if newState == StateOpen {
		c.tripReason = trigger
	}
	log.Warn().Str("event", eventType).Str("from", string(ev.FromState)).Str("to", string(newState)).Str("trigger", trigger).Msg("circuit breaker transition")
	if newState == StateOpen {
		c.alerts.Alert("Circuit breaker tripped", trigger)
	}
}

// Reset manually clears an OPEN breaker back to CLOSED. Requires the kill
// switch admin code and deactivates the global kill switch as a side effect,
// matching circuit_breaker.py's reset().
func (c *CircuitBreaker) Reset(adminCode string) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return Event{}, ErrNotOpen
	}
	if _, err := c.kill.DeactivateGlobal(adminCode, "circuit breaker manual reset"); err != nil {
		return Event{}, err
	}
	previousReason := c.tripReason
	oldState := c.state
	c.state = StateClosed
	c.stateChangedAt = domain.Now()
	c.tripReason = ""
	ev := Event{
		EventID:   uuid.New(),
		EventType: "reset",
		FromState: oldState,
		ToState:   StateClosed,
		Trigger:   fmt.Sprintf("manual reset (was: %s)", previousReason),
		Value:     "N/A",
		Threshold: "N/A",
		Timestamp: domain.Now(),
	}
	c.events = append(c.events, ev)
	log.Info().Msg("circuit breaker manually reset")
	return ev, nil
}

// GetEvents returns the most recent limit events.
func (c *CircuitBreaker) GetEvents(limit int) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if limit <= 0 || limit >= len(c.events) {
		out := make([]Event, len(c.events))
		copy(out, c.events)
		return out
	}
	return append([]Event(nil), c.events[len(c.events)-limit:]...)
}

// Status is a read-only snapshot mirroring circuit_breaker.py's get_status().
type Status struct {
	State          State
	IsTripped      bool
	IsWarning      bool
	StateChangedAt time.Time
	TripReason     string
	CurrentDailyDD decimal.Decimal
	CurrentTotalDD decimal.Decimal
	Thresholds     Thresholds
	TotalEvents    int
}

// GetStatus returns the breaker's status snapshot.
func (c *CircuitBreaker) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		State:          c.state,
		IsTripped:      c.state == StateOpen,
		IsWarning:      c.state == StateHalfOpen,
		StateChangedAt: c.stateChangedAt,
		TripReason:     c.tripReason,
		CurrentDailyDD: c.currentDailyDD,
		CurrentTotalDD: c.currentTotalDD,
		Thresholds:     c.thresholds,
		TotalEvents:    len(c.events),
	}
}

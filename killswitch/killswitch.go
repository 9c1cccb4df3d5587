// Package killswitch implements the global and per-producer emergency halt
// (spec.md §4.B). Grounded on
// _examples/original_source/services/risk/kill_switch.py for the admin-code
// authorization, masking, and audit-event shape, and on the teacher's
// risk/gate.go / risk/circuit_breaker.go for the sync.RWMutex-guarded-struct
// and zerolog logging idiom.
package killswitch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sync"
	"time"

	"github.com/cairnfi/execore/domain"
	"github.com/cairnfi/execore/notify"
)

// ErrPermissionDenied is returned by Deactivate* when the supplied admin
// code does not match the configured secret.
var ErrPermissionDenied = errors.New("killswitch: permission denied")

// ErrNotActive is returned by Deactivate* when the targeted scope is not
// currently halted.
var ErrNotActive = errors.New("killswitch: not active")

// DefaultAdminCode is the test-only fallback spec.md §9 describes:
// "acceptable for tests only; production callers are expected to supply
// one." Mirrors kill_switch.py's DEFAULT_ADMIN_CODE.
const DefaultAdminCode = "EMERGENCY_OVERRIDE_2026"

// Event is an append-only audit record of an activation or deactivation.
type Event struct {
	EventID     uuid.UUID
	EventType   string // "activate" or "deactivate"
	Scope       string // "global" or "strategy"
	StrategyID  string
	Reason      string
	TriggeredBy string
	AdminCode   string // masked: first 4 chars + "****"
	Timestamp   time.Time
}

// haltState holds {reason, activation timestamp, trigger source} for one
// halted scope (spec.md §3).
type haltState struct {
	Reason      string
	TriggeredBy string
	ActivatedAt string
}

// KillSwitch is the global bit plus the {producer -> bit} map described in
// spec.md §3. A producer is halted iff the global bit is set OR its own bit
// is set.
type KillSwitch struct {
	mu        sync.RWMutex
	adminCode string
	alerts    notify.AlertSink

	global   *haltState
	strategy map[string]*haltState

	events []Event
}

// New builds a KillSwitch. An empty adminCode falls back to DefaultAdminCode.
// Alerts are discarded until SetAlertSink is called.
func New(adminCode string) *KillSwitch {
	if adminCode == "" {
		adminCode = DefaultAdminCode
	}
	return &KillSwitch{
		adminCode: adminCode,
		strategy:  map[string]*haltState{},
		alerts:    notify.NoopSink{},
	}
}

// SetAlertSink wires an operator-facing notification channel, mirroring the
// teacher's OnCircuitTrip callback-setter pattern in risk/gate.go.
func (k *KillSwitch) SetAlertSink(sink notify.AlertSink) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.alerts = sink
}

func maskCode(code string) string {
	if len(code) <= 4 {
		return code + "****"
	}
	return code[:4] + "****"
}

// IsActive reports whether producerID (or the system overall, if empty) is
// halted: global OR (producer present AND producer bit set).
func (k *KillSwitch) IsActive(producerID string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.global != nil {
		return true
	}
	if producerID == "" {
		return false
	}
	_, halted := k.strategy[producerID]
	return halted
}

// ActivateGlobal halts all producers. Always succeeds; a re-activation
// overwrites the recorded reason, matching kill_switch.py's idempotent
// activate_global.
func (k *KillSwitch) ActivateGlobal(reason, triggeredBy string) Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.global = &haltState{Reason: reason, TriggeredBy: triggeredBy, ActivatedAt: domain.Now().Format("2006-01-02T15:04:05Z")}
	ev := Event{
		EventID:     uuid.New(),
		EventType:   "activate",
		Scope:       "global",
		Reason:      reason,
		TriggeredBy: triggeredBy,
	}
	ev.Timestamp = domain.Now()
	k.events = append(k.events, ev)
	log.Warn().Str("reason", reason).Str("triggered_by", triggeredBy).Msg("kill switch activated globally")
	k.alerts.Alert("Kill switch activated (global)", fmt.Sprintf("reason: %s\ntriggered by: %s", reason, triggeredBy))
	return ev
}

// DeactivateGlobal clears the global halt. Fails with ErrPermissionDenied if
// adminCode mismatches, or ErrNotActive if the global bit is not set.
func (k *KillSwitch) DeactivateGlobal(adminCode, reason string) (Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if adminCode != k.adminCode {
		log.Error().Str("admin_code", maskCode(adminCode)).Msg("kill switch deactivate rejected: bad admin code")
		return Event{}, ErrPermissionDenied
	}
	if k.global == nil {
		return Event{}, ErrNotActive
	}
	k.global = nil
	ev := Event{
		EventID:   uuid.New(),
		EventType: "deactivate",
		Scope:     "global",
		Reason:    reason,
		AdminCode: maskCode(adminCode),
	}
	ev.Timestamp = domain.Now()
	k.events = append(k.events, ev)
	log.Info().Str("reason", reason).Msg("kill switch deactivated globally")
	return ev, nil
}

// ActivateStrategy halts a single producer.
func (k *KillSwitch) ActivateStrategy(producerID, reason, triggeredBy string) Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.strategy[producerID] = &haltState{Reason: reason, TriggeredBy: triggeredBy, ActivatedAt: domain.Now().Format("2006-01-02T15:04:05Z")}
	ev := Event{
		EventID:     uuid.New(),
		EventType:   "activate",
		Scope:       "strategy",
		StrategyID:  producerID,
		Reason:      reason,
		TriggeredBy: triggeredBy,
	}
	ev.Timestamp = domain.Now()
	k.events = append(k.events, ev)
	log.Warn().Str("producer", producerID).Str("reason", reason).Msg("kill switch activated for strategy")
	k.alerts.Alert("Kill switch activated (strategy)", fmt.Sprintf("producer: %s\nreason: %s", producerID, reason))
	return ev
}

// DeactivateStrategy clears a single producer's halt.
func (k *KillSwitch) DeactivateStrategy(producerID, adminCode, reason string) (Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if adminCode != k.adminCode {
		return Event{}, ErrPermissionDenied
	}
	if _, ok := k.strategy[producerID]; !ok {
		return Event{}, ErrNotActive
	}
	delete(k.strategy, producerID)
	ev := Event{
		EventID:    uuid.New(),
		EventType:  "deactivate",
		Scope:      "strategy",
		StrategyID: producerID,
		Reason:     reason,
		AdminCode:  maskCode(adminCode),
	}
	ev.Timestamp = domain.Now()
	k.events = append(k.events, ev)
	log.Info().Str("producer", producerID).Str("reason", reason).Msg("kill switch deactivated for strategy")
	return ev, nil
}

// Events returns the most recent limit events, optionally filtered to one
// producer (global events are always included since they affect every
// producer).
func (k *KillSwitch) Events(limit int, producerID string) []Event {
	k.mu.RLock()
	defer k.mu.RUnlock()
	var filtered []Event
	for _, ev := range k.events {
		if producerID == "" || ev.Scope == "global" || ev.StrategyID == producerID {
			filtered = append(filtered, ev)
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// Status is a read-only snapshot beyond the bare IsActive bit, supplementing
// kill_switch.py's get_summary/get_global_info/get_strategy_info
// (SPEC_FULL.md §4).
type Status struct {
	GlobalActive     bool
	GlobalReason     string
	HaltedStrategies map[string]string // producer -> reason
	RecentEvents     []Event
}

// GetStatus returns the combined snapshot described above.
func (k *KillSwitch) GetStatus(recentEvents int) Status {
	k.mu.RLock()
	st := Status{HaltedStrategies: map[string]string{}}
	if k.global != nil {
		st.GlobalActive = true
		st.GlobalReason = k.global.Reason
	}
	for p, h := range k.strategy {
		st.HaltedStrategies[p] = h.Reason
	}
	k.mu.RUnlock()
	st.RecentEvents = k.Events(recentEvents, "")
	return st
}

// String implements fmt.Stringer for diagnostic logging.
func (e Event) String() string {
	return fmt.Sprintf("%s %s scope=%s strategy=%s reason=%q", e.EventID, e.EventType, e.Scope, e.StrategyID, e.Reason)
}

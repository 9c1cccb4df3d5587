// Package oms implements the Order Management System of spec.md §4.F: the
// per-order state machine, idempotent creation keyed by client-supplied id,
// and lookup indices by internal/client/broker id and by producer.
//
// Grounded on _examples/original_source/services/execution/oms.py, which
// this package follows operation-for-operation, including the literal
// tolerance rule in update_from_broker that SPEC_FULL.md §4 calls out as a
// preserved Open Question: a single illegal transition attempt is tried and
// silently swallowed, never a multi-step walk.
package oms

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/broker"
	"github.com/cairnfi/execore/domain"
)

// State is one of the six order states spec.md §3 names.
type State string

const (
	StatePending         State = "PENDING"
	StateSubmitted       State = "SUBMITTED"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateFilled          State = "FILLED"
	StateRejected        State = "REJECTED"
	StateCancelled       State = "CANCELLED"
)

// validTransitions is the adjacency table of spec.md §3, expressed as a
// static data structure per spec.md §9's "sum-typed state machine" note:
// new legality checks become a single table edit, never scattered booleans.
var validTransitions = map[State]map[State]bool{
	StatePending:         {StateSubmitted: true, StateRejected: true},
	StateSubmitted:       {StatePartiallyFilled: true, StateFilled: true, StateRejected: true, StateCancelled: true},
	StatePartiallyFilled: {StateFilled: true, StateCancelled: true},
	StateFilled:          {},
	StateRejected:        {},
	StateCancelled:       {},
}

func isTerminal(s State) bool { return len(validTransitions[s]) == 0 }

// ErrInvalidTransition is raised when an attempted transition is not in the
// adjacency table; state is left unchanged.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("oms: invalid transition %s -> %s", e.From, e.To)
}

// ErrOrderNotFound is raised by every lookup that fails to find a managed
// order.
var ErrOrderNotFound = errors.New("oms: order not found")

// ErrMissingOrderID is raised by CancelOrder when neither id is supplied.
var ErrMissingOrderID = errors.New("oms: must supply client or broker order id")

// ManagedOrder is an order once accepted by the OMS; owned by its internal
// id for the process lifetime (spec.md §3).
type ManagedOrder struct {
	InternalID    uuid.UUID
	ClientOrderID string
	BrokerOrderID string

	Symbol      string
	Side        domain.Side
	Quantity    decimal.Decimal
	Kind        domain.OrderKind
	LimitPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce domain.TimeInForce
	ProducerID  string

	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal
	Fees             decimal.Decimal
	RejectReason     string

	State State

	CreatedAt   time.Time
	SubmittedAt time.Time
	FilledAt    time.Time
	CancelledAt time.Time
	UpdatedAt   time.Time
}

// IsTerminal reports whether the order is in a terminal state.
func (o *ManagedOrder) IsTerminal() bool { return isTerminal(o.State) }

// IsOpen reports whether the order is in a non-terminal state. A PENDING
// order is open but has no CANCELLED edge in the transition table.
func (o *ManagedOrder) IsOpen() bool { return !o.IsTerminal() }

// RemainingQuantity is Quantity - FilledQuantity.
func (o *ManagedOrder) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// snapshot returns a value copy so callers never mutate stored state
// through a returned pointer's fields by accident.
func (o *ManagedOrder) snapshot() ManagedOrder { return *o }

// OMS owns the order dictionary and its three secondary indices.
type OMS struct {
	mu sync.RWMutex

	orders          map[uuid.UUID]*ManagedOrder
	clientIndex     map[string]uuid.UUID
	brokerIndex     map[string]uuid.UUID
	strategyIndex   map[string]map[uuid.UUID]bool
}

// New builds an empty OMS.
func New() *OMS {
	return &OMS{
		orders:        map[uuid.UUID]*ManagedOrder{},
		clientIndex:   map[string]uuid.UUID{},
		brokerIndex:   map[string]uuid.UUID{},
		strategyIndex: map[string]map[uuid.UUID]bool{},
	}
}

// CreateOrder is idempotent on ClientOrderID: if it already exists, the
// existing managed order is returned unchanged — no duplicate, no error.
func (o *OMS) CreateOrder(intent domain.OrderIntent) ManagedOrder {
	o.mu.Lock()
	defer o.mu.Unlock()

	if id, ok := o.clientIndex[intent.ClientOrderID]; ok {
		return o.orders[id].snapshot()
	}

	now := domain.Now()
	order := &ManagedOrder{
		InternalID:    uuid.New(),
		ClientOrderID: intent.ClientOrderID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Quantity:      intent.Quantity,
		Kind:          intent.Kind,
		LimitPrice:    intent.LimitPrice,
		StopPrice:     intent.StopPrice,
		TimeInForce:   intent.TimeInForce,
		ProducerID:    intent.ProducerID,
		State:         StatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.orders[order.InternalID] = order
	o.clientIndex[order.ClientOrderID] = order.InternalID
	if o.strategyIndex[order.ProducerID] == nil {
		o.strategyIndex[order.ProducerID] = map[uuid.UUID]bool{}
	}
	o.strategyIndex[order.ProducerID][order.InternalID] = true

	log.Info().Str("client_order_id", order.ClientOrderID).Str("symbol", order.Symbol).Msg("order created")
	return order.snapshot()
}

// transitionLocked applies a transition if legal, raising otherwise. Caller
// must hold o.mu for writing.
func (o *OMS) transitionLocked(order *ManagedOrder, to State) error {
	if !validTransitions[order.State][to] {
		return &ErrInvalidTransition{From: order.State, To: to}
	}
	order.State = to
	order.UpdatedAt = domain.Now()
	return nil
}

// SubmitOrder transitions PENDING -> SUBMITTED, recording the broker id.
func (o *OMS) SubmitOrder(clientOrderID, brokerOrderID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, err := o.byClientLocked(clientOrderID)
	if err != nil {
		return err
	}
	if err := o.transitionLocked(order, StateSubmitted); err != nil {
		return err
	}
	order.BrokerOrderID = brokerOrderID
	order.SubmittedAt = domain.Now()
	o.brokerIndex[brokerOrderID] = order.InternalID
	log.Info().Str("client_order_id", clientOrderID).Str("broker_order_id", brokerOrderID).Msg("order submitted")
	return nil
}

// RejectOrder transitions PENDING -> REJECTED.
func (o *OMS) RejectOrder(clientOrderID, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, err := o.byClientLocked(clientOrderID)
	if err != nil {
		return err
	}
	if err := o.transitionLocked(order, StateRejected); err != nil {
		return err
	}
	order.RejectReason = reason
	log.Warn().Str("client_order_id", clientOrderID).Str("reason", reason).Msg("order rejected")
	return nil
}

// FillOrder applies a fill report. Cumulative fill fields are updated on
// every non-regressing report; the state transition only advances (filledQty >= quantity ->
// FILLED; 0 < filledQty < quantity and currently SUBMITTED ->
// PARTIALLY_FILLED). Regressions in filledQty are logged and ignored rather
// than failing, per spec.md §4.F's monotonic-filled-quantity rule.
func (o *OMS) FillOrder(brokerOrderID string, filledQty, avgPrice, fees decimal.Decimal) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, err := o.byBrokerLocked(brokerOrderID)
	if err != nil {
		return err
	}

	if filledQty.LessThan(order.FilledQuantity) {
		log.Warn().Str("broker_order_id", brokerOrderID).Str("filled", filledQty.String()).Str("previous", order.FilledQuantity.String()).Msg("ignoring non-monotonic fill update")
		return nil
	}

	order.FilledQuantity = filledQty
	order.AverageFillPrice = avgPrice
	order.Fees = fees
	order.UpdatedAt = domain.Now()

	switch {
	case filledQty.GreaterThanOrEqual(order.Quantity):
		if order.State != StateFilled {
			_ = o.transitionLocked(order, StateFilled)
			order.FilledAt = domain.Now()
		}
	case filledQty.IsPositive() && order.State == StateSubmitted:
		_ = o.transitionLocked(order, StatePartiallyFilled)
	}
	return nil
}

// CancelOrder transitions to CANCELLED by client or broker id. Re-cancelling
// an already-CANCELLED order is a no-op, not an error (spec.md §5).
func (o *OMS) CancelOrder(clientOrderID, brokerOrderID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var order *ManagedOrder
	var err error
	switch {
	case clientOrderID != "":
		order, err = o.byClientLocked(clientOrderID)
	case brokerOrderID != "":
		order, err = o.byBrokerLocked(brokerOrderID)
	default:
		return ErrMissingOrderID
	}
	if err != nil {
		return err
	}
	if order.State == StateCancelled {
		return nil
	}
	if err := o.transitionLocked(order, StateCancelled); err != nil {
		return err
	}
	order.CancelledAt = domain.Now()
	return nil
}

// statusMap translates broker-neutral statuses onto OMS states, per
// spec.md §4.E: ACCEPTED folds onto SUBMITTED, EXPIRED onto CANCELLED.
var statusMap = map[broker.Status]State{
	broker.StatusPending:         StatePending,
	broker.StatusSubmitted:       StateSubmitted,
	broker.StatusAccepted:        StateSubmitted,
	broker.StatusPartiallyFilled: StatePartiallyFilled,
	broker.StatusFilled:          StateFilled,
	broker.StatusCancelled:       StateCancelled,
	broker.StatusRejected:        StateRejected,
	broker.StatusExpired:         StateCancelled,
}

// UpdateFromBroker reconciles one order against a broker-reported result.
// If the broker's mapped state is not a legal single-step transition from
// the order's current state (the broker may have skipped states, e.g.
// PENDING -> FILLED), the transition attempt fails silently: the error is
// logged and dropped, current state is retained, but fill quantities are
// still applied. This is the literal, documented tolerance rule preserved
// from oms.py rather than the alternative "multi-step walk" spec.md's prose
// floats — see SPEC_FULL.md §4.
func (o *OMS) UpdateFromBroker(res broker.OrderResult) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	order, err := o.byBrokerLocked(res.BrokerOrderID)
	if err != nil {
		// Unknown broker id: log and drop, never create a phantom order
		// (spec.md §7).
		log.Warn().Str("broker_order_id", res.BrokerOrderID).Msg("update_from_broker: unknown broker order id, dropping")
		return nil
	}

	mapped, ok := statusMap[res.Status]
	if !ok {
		mapped = StateSubmitted // unknown status defaults to SUBMITTED, per spec.md §6
	}

	if mapped != order.State {
		if tErr := o.transitionLocked(order, mapped); tErr != nil {
			var invalid *ErrInvalidTransition
			if errors.As(tErr, &invalid) {
				log.Warn().Str("broker_order_id", res.BrokerOrderID).Str("from", string(order.State)).Str("attempted", string(mapped)).Msg("update_from_broker: illegal transition tolerated, state retained")
			}
		}
	}

	order.FilledQuantity = res.FilledQuantity
	order.AverageFillPrice = res.AverageFillPrice
	if order.State == StateFilled && order.FilledAt.IsZero() {
		order.FilledAt = domain.Now()
	}
	order.UpdatedAt = domain.Now()
	return nil
}

// GenerateClientOrderID builds a unique id in the
// producer_symbol_YYYYMMDDhhmmss_<random8hex> format spec.md §4.F names.
// Producers may instead supply their own id; the only hard requirement is
// uniqueness across the OMS's lifetime.
func (o *OMS) GenerateClientOrderID(producerID, symbol string) string {
	suffix := uuid.New().String()
	suffix = suffix[:8]
	return fmt.Sprintf("%s_%s_%s_%s", producerID, symbol, domain.Now().Format("20060102150405"), suffix)
}

func (o *OMS) byClientLocked(clientOrderID string) (*ManagedOrder, error) {
	id, ok := o.clientIndex[clientOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.orders[id], nil
}

func (o *OMS) byBrokerLocked(brokerOrderID string) (*ManagedOrder, error) {
	id, ok := o.brokerIndex[brokerOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.orders[id], nil
}

// GetOrder looks up by internal id.
func (o *OMS) GetOrder(internalID uuid.UUID) (ManagedOrder, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	order, ok := o.orders[internalID]
	if !ok {
		return ManagedOrder{}, ErrOrderNotFound
	}
	return order.snapshot(), nil
}

// GetOrderByClientID looks up by client-supplied id.
func (o *OMS) GetOrderByClientID(clientOrderID string) (ManagedOrder, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	order, err := o.byClientLocked(clientOrderID)
	if err != nil {
		return ManagedOrder{}, err
	}
	return order.snapshot(), nil
}

// GetOrderByBrokerID looks up by broker-assigned id.
func (o *OMS) GetOrderByBrokerID(brokerOrderID string) (ManagedOrder, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	order, err := o.byBrokerLocked(brokerOrderID)
	if err != nil {
		return ManagedOrder{}, err
	}
	return order.snapshot(), nil
}

// HasOrder reports whether a client order id is known.
func (o *OMS) HasOrder(clientOrderID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.clientIndex[clientOrderID]
	return ok
}

// GetOrdersByStrategy returns every managed order created by a producer.
func (o *OMS) GetOrdersByStrategy(producerID string) []ManagedOrder {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []ManagedOrder
	for id := range o.strategyIndex[producerID] {
		out = append(out, o.orders[id].snapshot())
	}
	return out
}

// GetOpenOrders returns every non-terminal order, optionally filtered to one
// producer.
func (o *OMS) GetOpenOrders(producerID string) []ManagedOrder {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []ManagedOrder
	for _, order := range o.orders {
		if producerID != "" && order.ProducerID != producerID {
			continue
		}
		if order.IsOpen() {
			out = append(out, order.snapshot())
		}
	}
	return out
}

// GetAllOrders returns every managed order.
func (o *OMS) GetAllOrders() []ManagedOrder {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ManagedOrder, 0, len(o.orders))
	for _, order := range o.orders {
		out = append(out, order.snapshot())
	}
	return out
}

// CancelAllOpenOrders cancels every open order, optionally scoped to one
// producer. Best-effort: an order that cannot legally cancel is skipped,
// never aborting the sweep.
func (o *OMS) CancelAllOpenOrders(producerID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancelled := 0
	for _, order := range o.orders {
		if producerID != "" && order.ProducerID != producerID {
			continue
		}
		if !order.IsOpen() {
			continue
		}
		if err := o.transitionLocked(order, StateCancelled); err == nil {
			order.CancelledAt = domain.Now()
			cancelled++
		}
	}
	return cancelled
}

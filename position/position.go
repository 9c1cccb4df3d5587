// Package position implements the Position Tracker and Reconciler of
// spec.md §4.G: multi-producer attribution, weighted-average cost
// accounting, realized/unrealized P&L, and read-only broker reconciliation.
//
// Grounded on
// _examples/original_source/services/execution/reconciliation.py, which
// this package follows for the update_position accounting rules (same-sign
// adds recompute a weighted average; opposite-sign reduces realize P&L
// without mutating the average price) and for the exact reconcile()
// discrepancy classification used by spec.md's S6 scenario.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/broker"
	"github.com/cairnfi/execore/domain"
)

// TrackedPosition is one row owned by the tracker: one open position per
// (producer, symbol) tuple (spec.md §3).
type TrackedPosition struct {
	PositionID        uuid.UUID
	Symbol            string
	ProducerID        string
	Quantity          decimal.Decimal // signed: positive long, negative short, zero closed
	AverageEntryPrice decimal.Decimal
	CostBasis         decimal.Decimal
	CurrentPrice      decimal.Decimal
	MarketValue       decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	RealizedPnL       decimal.Decimal
	OpenedAt          time.Time
	ClosedAt          time.Time
	UpdatedAt         time.Time
}

// IsOpen reports a non-zero signed quantity.
func (p *TrackedPosition) IsOpen() bool { return !p.Quantity.IsZero() }

// IsLong reports a positive signed quantity.
func (p *TrackedPosition) IsLong() bool { return p.Quantity.IsPositive() }

// IsShort reports a negative signed quantity.
func (p *TrackedPosition) IsShort() bool { return p.Quantity.IsNegative() }

func (p *TrackedPosition) snapshot() TrackedPosition { return *p }

// updateMarketData recomputes market value and unrealized P&L for the
// current price, matching reconciliation.py's update_market_data.
func (p *TrackedPosition) updateMarketData(price decimal.Decimal) {
	p.CurrentPrice = price
	p.MarketValue = p.Quantity.Abs().Mul(price)
	p.UnrealizedPnL = price.Sub(p.AverageEntryPrice).Mul(p.Quantity)
}

// Discrepancy is one per-symbol mismatch found by Reconcile.
type Discrepancy struct {
	Symbol      string
	Kind        string // "missing_broker", "missing_local", "quantity_mismatch"
	Severity    domain.Severity
	LocalQty    decimal.Decimal
	BrokerQty   decimal.Decimal
	Message     string
}

// ReconciliationResult is the typed discrepancy report spec.md §4.G
// requires.
type ReconciliationResult struct {
	Discrepancies     []Discrepancy
	HasDiscrepancies  bool
	LocalPositions    int
	BrokerPositions   int
	MatchedPositions  int
	Timestamp         time.Time
}

func (r *ReconciliationResult) addDiscrepancy(d Discrepancy) {
	r.Discrepancies = append(r.Discrepancies, d)
	r.HasDiscrepancies = true
}

// Tracker owns the position dictionary and its secondary indices.
type Tracker struct {
	mu sync.RWMutex

	positions     map[uuid.UUID]*TrackedPosition
	symbolIndex   map[string]map[uuid.UUID]bool
	strategyIndex map[string]map[uuid.UUID]bool
	aggregate     map[string]decimal.Decimal // symbol -> summed signed quantity
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{
		positions:     map[uuid.UUID]*TrackedPosition{},
		symbolIndex:   map[string]map[uuid.UUID]bool{},
		strategyIndex: map[string]map[uuid.UUID]bool{},
		aggregate:     map[string]decimal.Decimal{},
	}
}

// findOpenLocked returns the open position for (producer, symbol), if any.
// Caller must hold t.mu.
func (t *Tracker) findOpenLocked(producerID, symbol string) *TrackedPosition {
	for id := range t.strategyIndex[producerID] {
		p := t.positions[id]
		if p.Symbol == symbol && p.IsOpen() {
			return p
		}
	}
	return nil
}

// OpenPosition opens (or folds into) the position for (producer, symbol).
// If one is already open, it delegates to UpdatePosition with delta =
// signedQty, price = entryPrice; otherwise it allocates a new row.
func (t *Tracker) OpenPosition(symbol, producerID string, signedQty, entryPrice decimal.Decimal) TrackedPosition {
	t.mu.Lock()
	existing := t.findOpenLocked(producerID, symbol)
	if existing != nil {
		id := existing.PositionID
		t.mu.Unlock()
		result, _ := t.UpdatePosition(id, signedQty, entryPrice)
		return result
	}

	now := domain.Now()
	p := &TrackedPosition{
		PositionID:        uuid.New(),
		Symbol:            symbol,
		ProducerID:        producerID,
		Quantity:          signedQty,
		AverageEntryPrice: entryPrice,
		CostBasis:         signedQty.Abs().Mul(entryPrice),
		OpenedAt:          now,
		UpdatedAt:         now,
	}
	t.positions[p.PositionID] = p
	if t.symbolIndex[symbol] == nil {
		t.symbolIndex[symbol] = map[uuid.UUID]bool{}
	}
	t.symbolIndex[symbol][p.PositionID] = true
	if t.strategyIndex[producerID] == nil {
		t.strategyIndex[producerID] = map[uuid.UUID]bool{}
	}
	t.strategyIndex[producerID][p.PositionID] = true
	t.aggregate[symbol] = t.aggregate[symbol].Add(signedQty)
	t.mu.Unlock()

	log.Info().Str("symbol", symbol).Str("producer", producerID).Str("qty", signedQty.String()).Msg("position opened")
	return p.snapshot()
}

// UpdatePosition is the central accounting operation of spec.md §4.G.
func (t *Tracker) UpdatePosition(positionID uuid.UUID, delta, price decimal.Decimal) (TrackedPosition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.positions[positionID]
	if !ok {
		return TrackedPosition{}, ErrPositionNotFound
	}

	sameSign := p.Quantity.IsZero() || delta.IsZero() ||
		(p.Quantity.IsPositive() && delta.IsPositive()) ||
		(p.Quantity.IsNegative() && delta.IsNegative())

	if sameSign {
		oldAbs := p.Quantity.Abs()
		deltaAbs := delta.Abs()
		oldValue := oldAbs.Mul(p.AverageEntryPrice)
		newValue := deltaAbs.Mul(price)
		totalAbs := oldAbs.Add(deltaAbs)
		if totalAbs.IsPositive() {
			p.AverageEntryPrice = oldValue.Add(newValue).Div(totalAbs)
		}
		p.CostBasis = oldValue.Add(newValue)
		p.Quantity = p.Quantity.Add(delta)
	} else {
		// Reducing or reversing: realize P&L on the portion that closes
		// existing exposure; the average price of what remains is
		// unchanged — it is never mutated by a reducing fill (spec.md §3).
		closingQty := decimal.Min(delta.Abs(), p.Quantity.Abs())
		var realized decimal.Decimal
		if p.IsLong() {
			realized = closingQty.Mul(price.Sub(p.AverageEntryPrice))
		} else {
			realized = closingQty.Mul(p.AverageEntryPrice.Sub(price))
		}
		p.RealizedPnL = p.RealizedPnL.Add(realized)

		newQty := p.Quantity.Add(delta)
		if (p.IsLong() && newQty.IsNegative()) || (p.IsShort() && newQty.IsPositive()) {
			// True reversal: the excess beyond flat opens a fresh leg at
			// the current price with its own average, per spec.md §4.G's
			// default policy.
			p.AverageEntryPrice = price
		}
		p.Quantity = newQty
	}

	p.UpdatedAt = domain.Now()
	if p.Quantity.IsZero() {
		p.ClosedAt = domain.Now()
	} else {
		p.ClosedAt = time.Time{}
	}
	t.aggregate[p.Symbol] = t.aggregate[p.Symbol].Add(delta)

	return p.snapshot(), nil
}

// ErrPositionNotFound is returned when a position id is unknown.
var ErrPositionNotFound = errPositionNotFound{}

type errPositionNotFound struct{}

func (errPositionNotFound) Error() string { return "position: not found" }

// ClosePosition is a shortcut for UpdatePosition(id, -currentQty, exitPrice).
func (t *Tracker) ClosePosition(positionID uuid.UUID, exitPrice decimal.Decimal) (TrackedPosition, error) {
	t.mu.RLock()
	p, ok := t.positions[positionID]
	t.mu.RUnlock()
	if !ok {
		return TrackedPosition{}, ErrPositionNotFound
	}
	return t.UpdatePosition(positionID, p.Quantity.Neg(), exitPrice)
}

// UpdateMarketPrices refreshes current price, market value, and unrealized
// P&L for every open position on a listed symbol.
func (t *Tracker) UpdateMarketPrices(prices map[string]decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for symbol, price := range prices {
		for id := range t.symbolIndex[symbol] {
			p := t.positions[id]
			if p.IsOpen() {
				p.updateMarketData(price)
			}
		}
	}
}

// GetOpenPositions returns every open position, optionally scoped to one
// producer.
func (t *Tracker) GetOpenPositions(producerID string) []TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []TrackedPosition
	for _, p := range t.positions {
		if producerID != "" && p.ProducerID != producerID {
			continue
		}
		if p.IsOpen() {
			out = append(out, p.snapshot())
		}
	}
	return out
}

// GetBySymbol returns positions (optionally including closed ones) for a
// symbol.
func (t *Tracker) GetBySymbol(symbol string, includeClosed bool) []TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []TrackedPosition
	for id := range t.symbolIndex[symbol] {
		p := t.positions[id]
		if !includeClosed && !p.IsOpen() {
			continue
		}
		out = append(out, p.snapshot())
	}
	return out
}

// GetAllPositions returns every tracked position, open and closed, for
// durability snapshotting.
func (t *Tracker) GetAllPositions() []TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackedPosition, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p.snapshot())
	}
	return out
}

// GetAggregate returns the summed signed quantity across all producers for
// a symbol.
func (t *Tracker) GetAggregate(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.aggregate[symbol]
}

// TotalUnrealizedPnL sums unrealized P&L over open positions only.
func (t *Tracker) TotalUnrealizedPnL() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := decimal.Zero
	for _, p := range t.positions {
		if p.IsOpen() {
			total = total.Add(p.UnrealizedPnL)
		}
	}
	return total
}

// TotalRealizedPnL sums realized P&L over ALL positions, including closed
// ones — no open-only filter, matching reconciliation.py's
// get_total_realized_pnl (SPEC_FULL.md §4).
func (t *Tracker) TotalRealizedPnL() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := decimal.Zero
	for _, p := range t.positions {
		total = total.Add(p.RealizedPnL)
	}
	return total
}

// Reconcile compares local bookkeeping against the broker's authoritative
// view and returns a typed discrepancy report. Read-only: it never mutates
// local state.
func (t *Tracker) Reconcile(ctx context.Context, client broker.Client) (ReconciliationResult, error) {
	brokerPositions, err := client.ListPositions(ctx)
	if err != nil {
		return ReconciliationResult{}, err
	}

	brokerBySymbol := map[string]decimal.Decimal{}
	for _, bp := range brokerPositions {
		brokerBySymbol[bp.Symbol] = bp.Quantity
	}

	t.mu.RLock()
	localBySymbol := map[string]decimal.Decimal{}
	for symbol, qty := range t.aggregate {
		if !qty.IsZero() {
			localBySymbol[symbol] = qty
		}
	}
	t.mu.RUnlock()

	symbols := map[string]bool{}
	for s := range localBySymbol {
		symbols[s] = true
	}
	for s, qty := range brokerBySymbol {
		if !qty.IsZero() {
			symbols[s] = true
		}
	}

	result := ReconciliationResult{
		LocalPositions:  len(localBySymbol),
		BrokerPositions: len(brokerBySymbol),
		Timestamp:       domain.Now(),
	}

	for symbol := range symbols {
		localQty, hasLocal := localBySymbol[symbol]
		brokerQty, hasBroker := brokerBySymbol[symbol]
		brokerQtyNonZero := hasBroker && !brokerQty.IsZero()

		switch {
		case hasLocal && !brokerQtyNonZero:
			result.addDiscrepancy(Discrepancy{
				Symbol: symbol, Kind: "missing_broker", Severity: domain.SeverityError,
				LocalQty: localQty, Message: "position present locally but absent at broker",
			})
		case (!hasLocal || localQty.IsZero()) && brokerQtyNonZero:
			result.addDiscrepancy(Discrepancy{
				Symbol: symbol, Kind: "missing_local", Severity: domain.SeverityWarning,
				BrokerQty: brokerQty, Message: "position present at broker but absent locally",
			})
		case !localQty.Equal(brokerQty):
			result.addDiscrepancy(Discrepancy{
				Symbol: symbol, Kind: "quantity_mismatch", Severity: domain.SeverityError,
				LocalQty: localQty, BrokerQty: brokerQty, Message: "local and broker quantities differ",
			})
		default:
			result.MatchedPositions++
		}
	}

	if result.HasDiscrepancies {
		log.Warn().Int("discrepancies", len(result.Discrepancies)).Msg("reconciliation found discrepancies")
	}
	return result, nil
}

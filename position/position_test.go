package position

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/broker"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// fakeBroker is a minimal broker.Client stub returning a fixed set of
// positions, enough to drive Reconcile without a live adapter.
type fakeBroker struct {
	broker.PaperClient
	positions []broker.Position
}

func (f *fakeBroker) ListPositions(_ context.Context) ([]broker.Position, error) {
	return f.positions, nil
}

// TestRoundTripAddThenFullyReduceNoOtherActivity is the round-trip law
// implied by spec.md §4.G: opening a position and then fully closing it at
// the same price with no other activity leaves realized P&L at zero and the
// position closed.
func TestRoundTripAddThenFullyReduceNoOtherActivity(t *testing.T) {
	t.Parallel()
	tr := New()

	opened := tr.OpenPosition("AAPL", "p1", d(100), d(150))
	closed, err := tr.UpdatePosition(opened.PositionID, d(-100), d(150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed.RealizedPnL.IsZero() {
		t.Fatalf("expected zero realized P&L on a flat round trip, got %s", closed.RealizedPnL)
	}
	if closed.IsOpen() {
		t.Fatal("expected the position to be closed after a full reduce")
	}
}

func TestUpdatePositionWeightedAverageOnAdd(t *testing.T) {
	t.Parallel()
	tr := New()
	opened := tr.OpenPosition("AAPL", "p1", d(100), d(150))
	updated, err := tr.UpdatePosition(opened.PositionID, d(100), d(160))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (100*150 + 100*160) / 200 = 155
	if !updated.AverageEntryPrice.Equal(d(155)) {
		t.Fatalf("expected weighted average 155, got %s", updated.AverageEntryPrice)
	}
	if !updated.Quantity.Equal(d(200)) {
		t.Fatalf("expected quantity 200, got %s", updated.Quantity)
	}
}

func TestUpdatePositionRealizesPnLOnPartialReduceWithoutMovingAverage(t *testing.T) {
	t.Parallel()
	tr := New()
	opened := tr.OpenPosition("AAPL", "p1", d(100), d(150))
	updated, err := tr.UpdatePosition(opened.PositionID, d(-40), d(160))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 40 * (160 - 150) = 400 realized; average price on the remaining 60
	// shares is untouched by a reducing fill.
	if !updated.RealizedPnL.Equal(d(400)) {
		t.Fatalf("expected realized P&L 400, got %s", updated.RealizedPnL)
	}
	if !updated.AverageEntryPrice.Equal(d(150)) {
		t.Fatalf("expected average entry price to remain 150 on a partial reduce, got %s", updated.AverageEntryPrice)
	}
	if !updated.Quantity.Equal(d(60)) {
		t.Fatalf("expected remaining quantity 60, got %s", updated.Quantity)
	}
}

func TestUpdatePositionTrueReversalOpensFreshLeg(t *testing.T) {
	t.Parallel()
	tr := New()
	opened := tr.OpenPosition("AAPL", "p1", d(100), d(150))
	// Sell 150 against a 100-long: closes the long and opens a 50-short.
	updated, err := tr.UpdatePosition(opened.PositionID, d(-150), d(160))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.Quantity.Equal(d(-50)) {
		t.Fatalf("expected a 50-share short after reversal, got %s", updated.Quantity)
	}
	if !updated.AverageEntryPrice.Equal(d(160)) {
		t.Fatalf("expected the fresh short leg's average entry to be the reversal price, got %s", updated.AverageEntryPrice)
	}
}

func TestTotalRealizedPnLIncludesClosedPositions(t *testing.T) {
	t.Parallel()
	tr := New()
	opened := tr.OpenPosition("AAPL", "p1", d(100), d(150))
	tr.UpdatePosition(opened.PositionID, d(-100), d(160))

	total := tr.TotalRealizedPnL()
	if !total.Equal(d(1000)) {
		t.Fatalf("expected closed positions to count toward total realized P&L, got %s", total)
	}
}

// TestS6Reconciliation follows spec.md §8's S6 scenario: local bookkeeping
// shows one symbol the broker doesn't, is missing one the broker does, and
// disagrees on the quantity of a third.
func TestS6Reconciliation(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.OpenPosition("AAPL", "p1", d(100), d(150))  // broker agrees
	tr.OpenPosition("GOOGL", "p1", d(10), d(2800))  // missing at broker
	tr.OpenPosition("MSFT", "p1", d(50), d(300))    // quantity mismatch (broker says 40)

	fb := &fakeBroker{positions: []broker.Position{
		{Symbol: "AAPL", Quantity: d(100)},
		{Symbol: "MSFT", Quantity: d(40)},
		{Symbol: "TSLA", Quantity: d(5)}, // missing locally
	}}

	result, err := tr.Reconcile(context.Background(), fb)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.HasDiscrepancies {
		t.Fatal("expected discrepancies to be found")
	}
	if result.MatchedPositions != 1 {
		t.Fatalf("expected exactly one matched symbol (AAPL), got %d", result.MatchedPositions)
	}

	kinds := map[string]string{}
	for _, disc := range result.Discrepancies {
		kinds[disc.Symbol] = disc.Kind
	}
	if kinds["GOOGL"] != "missing_broker" {
		t.Fatalf("expected GOOGL to be missing_broker, got %s", kinds["GOOGL"])
	}
	if kinds["TSLA"] != "missing_local" {
		t.Fatalf("expected TSLA to be missing_local, got %s", kinds["TSLA"])
	}
	if kinds["MSFT"] != "quantity_mismatch" {
		t.Fatalf("expected MSFT to be quantity_mismatch, got %s", kinds["MSFT"])
	}
}

func TestReconcileIsReadOnly(t *testing.T) {
	t.Parallel()
	tr := New()
	tr.OpenPosition("AAPL", "p1", d(100), d(150))
	before := tr.GetAggregate("AAPL")

	fb := &fakeBroker{positions: []broker.Position{{Symbol: "AAPL", Quantity: d(999)}}}
	if _, err := tr.Reconcile(context.Background(), fb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after := tr.GetAggregate("AAPL")
	if !before.Equal(after) {
		t.Fatalf("reconcile must never mutate local state: before %s, after %s", before, after)
	}
}

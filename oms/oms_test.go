package oms

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/broker"
	"github.com/cairnfi/execore/domain"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func sampleIntent(clientID string) domain.OrderIntent {
	return domain.OrderIntent{
		Symbol:        "AAPL",
		Side:          domain.SideBuy,
		Quantity:      d(100),
		Kind:          domain.KindLimit,
		LimitPrice:    d(150),
		TimeInForce:   domain.TIFDay,
		ProducerID:    "p1",
		ClientOrderID: clientID,
	}
}

// TestS3IdempotentCreate follows spec.md §8's S3 scenario: calling
// CreateOrder twice with the same client order id returns the same managed
// order, never a duplicate.
func TestS3IdempotentCreate(t *testing.T) {
	t.Parallel()
	o := New()

	first := o.CreateOrder(sampleIntent("c1"))
	second := o.CreateOrder(sampleIntent("c1"))

	if first.InternalID != second.InternalID {
		t.Fatalf("expected the same internal id on repeated CreateOrder, got %s and %s", first.InternalID, second.InternalID)
	}
	if len(o.GetOrdersByStrategy("p1")) != 1 {
		t.Fatalf("expected exactly one order for p1, got %d", len(o.GetOrdersByStrategy("p1")))
	}
}

// TestS5PartialFillThenCancel follows spec.md §8's S5 scenario: an order
// partially fills, then is cancelled, settling in CANCELLED with its partial
// fill quantity retained.
func TestS5PartialFillThenCancel(t *testing.T) {
	t.Parallel()
	o := New()
	order := o.CreateOrder(sampleIntent("c1"))

	if err := o.SubmitOrder("c1", "b1"); err != nil {
		t.Fatalf("unexpected error submitting: %v", err)
	}
	if err := o.FillOrder("b1", d(40), d(150), d(1)); err != nil {
		t.Fatalf("unexpected error on partial fill: %v", err)
	}
	got, _ := o.GetOrder(order.InternalID)
	if got.State != StatePartiallyFilled {
		t.Fatalf("expected PARTIALLY_FILLED, got %s", got.State)
	}

	if err := o.CancelOrder("c1", ""); err != nil {
		t.Fatalf("unexpected error cancelling: %v", err)
	}
	got, _ = o.GetOrder(order.InternalID)
	if got.State != StateCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.State)
	}
	if !got.FilledQuantity.Equal(d(40)) {
		t.Fatalf("expected the partial fill quantity to be retained, got %s", got.FilledQuantity)
	}
}

func TestTransitionTableRejectsIllegalJump(t *testing.T) {
	t.Parallel()
	o := New()
	o.CreateOrder(sampleIntent("c1"))

	// PENDING -> FILLED is not in the adjacency table.
	order, _ := o.GetOrderByClientID("c1")
	err := o.transitionLocked(&order, StateFilled)
	var invalid *ErrInvalidTransition
	if err == nil {
		t.Fatal("expected an error transitioning PENDING directly to FILLED")
	}
	if ok := errorsAs(err, &invalid); !ok {
		t.Fatalf("expected an ErrInvalidTransition, got %v", err)
	}
}

// errorsAs is a tiny local helper so this test file doesn't need to import
// "errors" solely for one assertion.
func errorsAs(err error, target **ErrInvalidTransition) bool {
	if e, ok := err.(*ErrInvalidTransition); ok {
		*target = e
		return true
	}
	return false
}

func TestRecancellingIsANoOp(t *testing.T) {
	t.Parallel()
	o := New()
	o.CreateOrder(sampleIntent("c1"))
	o.SubmitOrder("c1", "b1")

	if err := o.CancelOrder("c1", ""); err != nil {
		t.Fatalf("unexpected error on first cancel: %v", err)
	}
	if err := o.CancelOrder("c1", ""); err != nil {
		t.Fatalf("expected re-cancelling an already-CANCELLED order to be a no-op, got %v", err)
	}
}

// TestUpdateFromBrokerTolerance verifies the literal one-shot tolerance rule:
// an illegal transition attempt is swallowed (state unchanged) but fill
// fields are still applied.
func TestUpdateFromBrokerTolerance(t *testing.T) {
	t.Parallel()
	o := New()
	o.CreateOrder(sampleIntent("c1"))
	o.SubmitOrder("c1", "b1")
	// Fill the order, then report it as PENDING: there is no legal
	// FILLED -> PENDING edge, so the state is kept while the reported fill
	// price is still recorded.
	if err := o.FillOrder("b1", d(100), d(150), d(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := o.GetOrderByClientID("c1")
	if got.State != StateFilled {
		t.Fatalf("expected FILLED, got %s", got.State)
	}

	if err := o.UpdateFromBroker(broker.OrderResult{
		BrokerOrderID:    "b1",
		Status:           broker.StatusPending,
		FilledQuantity:   d(100),
		AverageFillPrice: d(151),
	}); err != nil {
		t.Fatalf("UpdateFromBroker should never return an error for a known order: %v", err)
	}
	got, _ = o.GetOrderByClientID("c1")
	if got.State != StateFilled {
		t.Fatalf("expected state to remain FILLED after an illegal reported transition, got %s", got.State)
	}
	if !got.AverageFillPrice.Equal(d(151)) {
		t.Fatalf("expected fill fields to still apply despite the tolerated illegal transition, got %s", got.AverageFillPrice)
	}
}

func TestUpdateFromBrokerUnknownIDNeverCreatesPhantomOrder(t *testing.T) {
	t.Parallel()
	o := New()
	if err := o.UpdateFromBroker(broker.OrderResult{BrokerOrderID: "ghost", Status: broker.StatusFilled}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.GetAllOrders()) != 0 {
		t.Fatalf("expected no orders to be created for an unknown broker id, got %d", len(o.GetAllOrders()))
	}
}

func TestGenerateClientOrderIDIsUnique(t *testing.T) {
	t.Parallel()
	o := New()
	ids := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := o.GenerateClientOrderID("p1", "AAPL")
		if ids[id] {
			t.Fatalf("expected unique client order ids, got a repeat: %s", id)
		}
		ids[id] = true
	}
}

// TestOrderStaysPendingOnBrokerRejection follows spec.md §7's
// BrokerError/InsufficientFunds row: when PlaceOrder fails, the caller never
// calls SubmitOrder, so the managed order is left exactly where CreateOrder
// put it — PENDING — for the caller to reject or retry.
func TestOrderStaysPendingOnBrokerRejection(t *testing.T) {
	t.Parallel()
	o := New()
	created := o.CreateOrder(sampleIntent("c1"))

	client := broker.NewPaperClient(d(100)) // far less than the 100*150 notional
	_, err := client.PlaceOrder(context.Background(), broker.OrderRequest{
		ClientOrderID: created.ClientOrderID,
		Symbol:        created.Symbol,
		Side:          created.Side,
		Quantity:      created.Quantity,
		Kind:          created.Kind,
		LimitPrice:    created.LimitPrice,
	})
	if err != broker.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	got, _ := o.GetOrderByClientID("c1")
	if got.State != StatePending {
		t.Fatalf("expected order to remain PENDING after a broker rejection, got %s", got.State)
	}
}

func TestCancelAllOpenOrdersScopesByProducer(t *testing.T) {
	t.Parallel()
	o := New()
	intent1 := sampleIntent("c1")
	intent2 := sampleIntent("c2")
	intent2.ProducerID = "p2"
	o.CreateOrder(intent1)
	o.CreateOrder(intent2)
	o.SubmitOrder("c1", "b1")
	o.SubmitOrder("c2", "b2")

	cancelled := o.CancelAllOpenOrders("p1")
	if cancelled != 1 {
		t.Fatalf("expected exactly 1 order cancelled for p1, got %d", cancelled)
	}
	o2, _ := o.GetOrderByClientID("c2")
	if o2.State == StateCancelled {
		t.Fatal("p2's order should be unaffected by a p1-scoped cancel sweep")
	}
}

package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/domain"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestPaperClientFillsImmediatelyAtLimitPrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := NewPaperClient(d(100000))

	res, err := client.PlaceOrder(ctx, OrderRequest{
		ClientOrderID: "c1",
		Symbol:        "AAPL",
		Side:          domain.SideBuy,
		Quantity:      d(10),
		Kind:          domain.KindLimit,
		LimitPrice:    d(150),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusFilled {
		t.Fatalf("expected immediate fill, got %s", res.Status)
	}
	if !res.AverageFillPrice.Equal(d(150)) {
		t.Fatalf("expected fill at limit price 150, got %s", res.AverageFillPrice)
	}
}

func TestPaperClientUsesMarkForMarketOrders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := NewPaperClient(d(100000))
	client.SetMark("AAPL", d(152.50))

	res, err := client.PlaceOrder(ctx, OrderRequest{
		ClientOrderID: "c1",
		Symbol:        "AAPL",
		Side:          domain.SideBuy,
		Quantity:      d(10),
		Kind:          domain.KindMarket,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AverageFillPrice.Equal(d(152.50)) {
		t.Fatalf("expected fill at mark price, got %s", res.AverageFillPrice)
	}
}

func TestPaperClientCancelUnknownOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := NewPaperClient(d(100000))
	if _, err := client.CancelOrder(ctx, "does-not-exist"); err != ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

// TestPaperClientRejectsInsufficientFunds exercises spec.md §7's
// BrokerError/InsufficientFunds boundary: a BUY whose notional exceeds
// available cash never produces an OrderResult at all.
func TestPaperClientRejectsInsufficientFunds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := NewPaperClient(d(1000))

	_, err := client.PlaceOrder(ctx, OrderRequest{
		ClientOrderID: "c1",
		Symbol:        "AAPL",
		Side:          domain.SideBuy,
		Quantity:      d(100),
		Kind:          domain.KindLimit,
		LimitPrice:    d(150), // notional 15000 > 1000 cash
	})
	if err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestPaperClientGetOrderRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := NewPaperClient(d(100000))

	placed, err := client.PlaceOrder(ctx, OrderRequest{ClientOrderID: "c1", Symbol: "AAPL", Quantity: d(1), LimitPrice: d(100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := client.GetOrder(ctx, placed.BrokerOrderID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BrokerOrderID != placed.BrokerOrderID {
		t.Fatalf("expected round-trip of the same order, got %+v", got)
	}
}

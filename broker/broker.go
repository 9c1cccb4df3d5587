// Package broker defines the minimal capability contract the OMS and
// Position Tracker require from any broker adapter (spec.md §4.E), plus a
// synchronous paper adapter used by tests and local wiring.
//
// Grounded on _examples/original_source/services/execution/broker/base.py
// for the abstract contract shape (place_order/cancel_order/get_positions/
// get_account/get_order_status/get_orders) and status vocabulary, and on
// _examples/original_source/services/execution/broker/alpaca.py for the
// adapter-documents-its-own-status-map pattern required by spec.md §6.
package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/domain"
)

// Status is one of the eight broker-neutral order statuses spec.md §4.E
// names. The core treats ACCEPTED as equivalent to SUBMITTED and EXPIRED as
// equivalent to CANCELLED.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusSubmitted       Status = "SUBMITTED"
	StatusAccepted        Status = "ACCEPTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// ErrOrderNotFound is returned by adapters when a broker id is unknown.
var ErrOrderNotFound = errors.New("broker: order not found")

// ErrInsufficientFunds is returned by PlaceOrder when the account cannot
// cover the order.
var ErrInsufficientFunds = errors.New("broker: insufficient funds")

// OrderRequest is the shape submitted to PlaceOrder.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          domain.Side
	Quantity      decimal.Decimal
	Kind          domain.OrderKind
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
	TimeInForce   domain.TimeInForce
}

// OrderResult is the broker's view of one order, in broker-neutral
// vocabulary.
type OrderResult struct {
	BrokerOrderID   string
	ClientOrderID   string
	Status          Status
	FilledQuantity  decimal.Decimal
	AverageFillPrice decimal.Decimal
}

// Position is the broker's view of one holding.
type Position struct {
	Symbol            string
	Quantity          decimal.Decimal
	AverageEntryPrice decimal.Decimal
	CurrentPrice      decimal.Decimal
}

// Account is the broker's view of account state.
type Account struct {
	AccountID      string
	Cash           decimal.Decimal
	PortfolioValue decimal.Decimal
	BuyingPower    decimal.Decimal
	Equity         decimal.Decimal
}

// Client is the minimal contract consumed by the OMS and Position Tracker.
// Any concrete adapter (REST, FIX, simulated) implements this.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, brokerOrderID string) (bool, error)
	ListPositions(ctx context.Context) ([]Position, error)
	GetAccount(ctx context.Context) (Account, error)
	GetOrder(ctx context.Context, brokerOrderID string) (OrderResult, error)
	ListOrders(ctx context.Context, statusFilter Status, limit int) ([]OrderResult, error)
	Connected() bool
	IsPaper() bool
}

// PaperClient is a synchronous, in-memory adapter used for tests and local
// demonstration wiring. It fills every order immediately at the requested
// price (or a supplied mark price for market orders), which is enough to
// exercise the OMS and Position Tracker end to end without a live broker.
//
// Its status mapping is documented inline as spec.md §6 requires of every
// adapter: a BUY whose notional exceeds available cash never reaches the
// broker-neutral vocabulary at all — PlaceOrder returns ErrInsufficientFunds
// and no OrderResult, matching spec.md §7's BrokerError/InsufficientFunds
// row (the OMS never learns of the attempt, so the order stays PENDING).
// Every other accepted order fills immediately and reports FILLED, and
// CancelOrder marks a known order CANCELLED; no other status is produced,
// so no translation table is needed.
type PaperClient struct {
	nextID int
	orders map[string]OrderResult
	marks  map[string]decimal.Decimal
	cash   decimal.Decimal
}

// NewPaperClient builds a paper adapter with starting cash.
func NewPaperClient(startingCash decimal.Decimal) *PaperClient {
	return &PaperClient{
		orders: map[string]OrderResult{},
		marks:  map[string]decimal.Decimal{},
		cash:   startingCash,
	}
}

// SetMark sets the simulated market price used to fill market orders.
func (p *PaperClient) SetMark(symbol string, price decimal.Decimal) {
	p.marks[symbol] = price
}

func (p *PaperClient) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	fillPrice := req.LimitPrice
	if fillPrice.IsZero() {
		fillPrice = p.marks[req.Symbol]
	}

	notional := req.Quantity.Mul(fillPrice)
	if req.Side == domain.SideBuy && notional.GreaterThan(p.cash) {
		return OrderResult{}, ErrInsufficientFunds
	}

	p.nextID++
	brokerID := fmt.Sprintf("paper-%d", p.nextID)
	res := OrderResult{
		BrokerOrderID:    brokerID,
		ClientOrderID:    req.ClientOrderID,
		Status:           StatusFilled,
		FilledQuantity:   req.Quantity,
		AverageFillPrice: fillPrice,
	}
	p.orders[brokerID] = res
	if req.Side == domain.SideBuy {
		p.cash = p.cash.Sub(notional)
	} else {
		p.cash = p.cash.Add(notional)
	}
	return res, nil
}

func (p *PaperClient) CancelOrder(_ context.Context, brokerOrderID string) (bool, error) {
	res, ok := p.orders[brokerOrderID]
	if !ok {
		return false, ErrOrderNotFound
	}
	res.Status = StatusCancelled
	p.orders[brokerOrderID] = res
	return true, nil
}

func (p *PaperClient) ListPositions(_ context.Context) ([]Position, error) { return nil, nil }

func (p *PaperClient) GetAccount(_ context.Context) (Account, error) {
	return Account{Cash: p.cash, PortfolioValue: p.cash, BuyingPower: p.cash, Equity: p.cash}, nil
}

func (p *PaperClient) GetOrder(_ context.Context, brokerOrderID string) (OrderResult, error) {
	res, ok := p.orders[brokerOrderID]
	if !ok {
		return OrderResult{}, ErrOrderNotFound
	}
	return res, nil
}

func (p *PaperClient) ListOrders(_ context.Context, statusFilter Status, limit int) ([]OrderResult, error) {
	var out []OrderResult
	for _, res := range p.orders {
		if statusFilter != "" && res.Status != statusFilter {
			continue
		}
		out = append(out, res)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *PaperClient) Connected() bool { return true }
func (p *PaperClient) IsPaper() bool   { return true }

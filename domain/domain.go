// Package domain holds the value types shared across the risk, order, and
// position packages. Splitting these out avoids the import cycles that would
// otherwise appear between a risk manager that needs to describe an order
// intent and an OMS that needs to describe a risk violation back.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind is the order type submitted to a broker.
type OrderKind string

const (
	KindMarket    OrderKind = "MARKET"
	KindLimit     OrderKind = "LIMIT"
	KindStop      OrderKind = "STOP"
	KindStopLimit OrderKind = "STOP_LIMIT"
)

// TimeInForce controls how long a broker should keep working an order.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// Severity classifies a risk violation.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// OrderIntent is a candidate order not yet admitted to the OMS. It is the
// input to the risk manager's check_order and, once approved, the input to
// the OMS's create_order.
type OrderIntent struct {
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Kind          OrderKind
	LimitPrice    decimal.Decimal // required iff Kind in {LIMIT, STOP_LIMIT}
	StopPrice     decimal.Decimal // required iff Kind in {STOP, STOP_LIMIT}
	TimeInForce   TimeInForce
	ProducerID    string
	ClientOrderID string
	StopLossPrice decimal.Decimal // optional, sizing input only
}

// Violation is a single risk-limit breach or warning returned by a limit
// check. LimitType identifies which rule fired.
type Violation struct {
	LimitType   LimitType
	LimitValue  string
	ActualValue string
	Message     string
	Severity    Severity
}

// LimitType enumerates the kinds of risk-limit violation the core can raise.
type LimitType string

const (
	LimitMaxDailyDrawdown    LimitType = "MAX_DAILY_DRAWDOWN"
	LimitMaxTotalDrawdown    LimitType = "MAX_TOTAL_DRAWDOWN"
	LimitMaxCapitalDeployed  LimitType = "MAX_CAPITAL_DEPLOYED"
	LimitMaxOpenPositions    LimitType = "MAX_OPEN_POSITIONS"
	LimitMaxMarginUsage      LimitType = "MAX_MARGIN_USAGE"
	LimitMaxStrategyAlloc    LimitType = "MAX_STRATEGY_ALLOCATION"
	LimitMaxStrategyDrawdown LimitType = "MAX_STRATEGY_DRAWDOWN"
	LimitStrategyDailyLoss   LimitType = "STRATEGY_DAILY_LOSS"
	LimitMaxRiskPerTrade     LimitType = "MAX_RISK_PER_TRADE"
	LimitMaxNotional         LimitType = "MAX_NOTIONAL"
	LimitMaxPriceDeviation   LimitType = "MAX_PRICE_DEVIATION"
	LimitMinStockPrice       LimitType = "MIN_STOCK_PRICE"
	LimitMaxOrderQuantity    LimitType = "MAX_ORDER_QUANTITY"
	LimitKillSwitchActive    LimitType = "KILL_SWITCH_ACTIVE"
	LimitAssetBlocked        LimitType = "ASSET_BLOCKED"
	LimitPortfolioValueZero  LimitType = "PORTFOLIO_VALUE_ZERO"
)

// Now returns the current time. Centralized so the core's "ownership of
// time" design note (spec.md §9) has one seam; production code calls
// time.Now directly through this function.
func Now() time.Time {
	return time.Now().UTC()
}

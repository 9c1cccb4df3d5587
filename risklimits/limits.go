// Package risklimits defines the three immutable-after-registration limit
// value objects and their pure check functions (spec.md §4.A). None of these
// types hold a mutex or perform I/O; they take numeric quantities and return
// zero or more violations.
//
// Grounded on _examples/original_source/services/risk/limits.py, which this
// package follows field-for-field and threshold-for-threshold, translated
// from Pydantic models into plain Go structs with decimal.Decimal fields.
package risklimits

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/domain"
)

func pct(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// PortfolioLimits bounds account-wide exposure. Defaults mirror limits.py's
// PortfolioLimits model.
type PortfolioLimits struct {
	MaxDailyDrawdownPct   decimal.Decimal
	MaxTotalDrawdownPct   decimal.Decimal
	MaxCapitalDeployedPct decimal.Decimal
	MaxOpenPositions      int
	// MaxMarginUsage is an execore addition over limits.py's field of the
	// same name (SPEC_FULL.md §4): checked only when a caller supplies a
	// non-zero marginUsed to CheckMargin.
	MaxMarginUsage decimal.Decimal
}

// DefaultPortfolioLimits matches limits.py's PortfolioLimits defaults.
func DefaultPortfolioLimits() PortfolioLimits {
	return PortfolioLimits{
		MaxDailyDrawdownPct:   pct(3.0),
		MaxTotalDrawdownPct:   pct(10.0),
		MaxCapitalDeployedPct: pct(80.0),
		MaxOpenPositions:      20,
		MaxMarginUsage:        pct(1.5),
	}
}

// CheckDrawdown checks daily and total drawdown against the configured caps.
// Boundary values (== max) are violations, matching limits.py's `>=`.
func (l PortfolioLimits) CheckDrawdown(dailyDD, totalDD decimal.Decimal) []domain.Violation {
	var out []domain.Violation
	if dailyDD.GreaterThanOrEqual(l.MaxDailyDrawdownPct) {
		out = append(out, domain.Violation{
			LimitType:   domain.LimitMaxDailyDrawdown,
			LimitValue:  l.MaxDailyDrawdownPct.String(),
			ActualValue: dailyDD.String(),
			Message:     fmt.Sprintf("daily drawdown %s%% >= limit %s%%", dailyDD, l.MaxDailyDrawdownPct),
			Severity:    domain.SeverityError,
		})
	}
	if totalDD.GreaterThanOrEqual(l.MaxTotalDrawdownPct) {
		out = append(out, domain.Violation{
			LimitType:   domain.LimitMaxTotalDrawdown,
			LimitValue:  l.MaxTotalDrawdownPct.String(),
			ActualValue: totalDD.String(),
			Message:     fmt.Sprintf("total drawdown %s%% >= limit %s%%", totalDD, l.MaxTotalDrawdownPct),
			Severity:    domain.SeverityError,
		})
	}
	return out
}

// CheckCapital checks capital-deployed percentage against the cap.
func (l PortfolioLimits) CheckCapital(capitalDeployedPct decimal.Decimal) []domain.Violation {
	if capitalDeployedPct.GreaterThanOrEqual(l.MaxCapitalDeployedPct) {
		return []domain.Violation{{
			LimitType:   domain.LimitMaxCapitalDeployed,
			LimitValue:  l.MaxCapitalDeployedPct.String(),
			ActualValue: capitalDeployedPct.String(),
			Message:     fmt.Sprintf("capital deployed %s%% >= limit %s%%", capitalDeployedPct, l.MaxCapitalDeployedPct),
			Severity:    domain.SeverityError,
		}}
	}
	return nil
}

// CheckPositions checks the open-position count against the cap.
func (l PortfolioLimits) CheckPositions(openPositions int) []domain.Violation {
	if openPositions >= l.MaxOpenPositions {
		return []domain.Violation{{
			LimitType:   domain.LimitMaxOpenPositions,
			LimitValue:  fmt.Sprintf("%d", l.MaxOpenPositions),
			ActualValue: fmt.Sprintf("%d", openPositions),
			Message:     fmt.Sprintf("open positions %d >= limit %d", openPositions, l.MaxOpenPositions),
			Severity:    domain.SeverityError,
		}}
	}
	return nil
}

// CheckMargin checks margin usage when the caller tracks it. A zero
// marginUsed is treated as "not supplied" and never violates, per
// SPEC_FULL.md §4's additive-only contract for this field.
func (l PortfolioLimits) CheckMargin(marginUsed decimal.Decimal) []domain.Violation {
	if marginUsed.IsZero() {
		return nil
	}
	if marginUsed.GreaterThanOrEqual(l.MaxMarginUsage) {
		return []domain.Violation{{
			LimitType:   domain.LimitMaxMarginUsage,
			LimitValue:  l.MaxMarginUsage.String(),
			ActualValue: marginUsed.String(),
			Message:     fmt.Sprintf("margin usage %s >= limit %s", marginUsed, l.MaxMarginUsage),
			Severity:    domain.SeverityError,
		}}
	}
	return nil
}

// StrategyLimits bounds a single producer's allocation and loss behavior.
// One instance is registered per producer id.
type StrategyLimits struct {
	StrategyID          string
	MaxAllocationPct    decimal.Decimal
	CurrentAllocation   decimal.Decimal
	MaxDrawdownPct       decimal.Decimal
	DailyLossLimitPct   decimal.Decimal
	IsPaused            bool
	PauseReason         string
}

// DefaultStrategyLimits matches limits.py's StrategyLimits defaults for a
// freshly-registered producer.
func DefaultStrategyLimits(strategyID string) StrategyLimits {
	return StrategyLimits{
		StrategyID:        strategyID,
		MaxAllocationPct:  pct(100.0),
		CurrentAllocation: pct(0.0),
		MaxDrawdownPct:    pct(10.0),
		DailyLossLimitPct: pct(2.0),
	}
}

// CheckAllocation checks a projected allocation percentage. Matches
// limits.py's strict `>`, the same operator every OrderLimits check below
// uses; the PortfolioLimits checks and the StrategyLimits drawdown and
// daily-loss checks use `>=`.
func (l StrategyLimits) CheckAllocation(projectedPct decimal.Decimal) []domain.Violation {
	if projectedPct.GreaterThan(l.MaxAllocationPct) {
		return []domain.Violation{{
			LimitType:   domain.LimitMaxStrategyAlloc,
			LimitValue:  l.MaxAllocationPct.String(),
			ActualValue: projectedPct.String(),
			Message:     fmt.Sprintf("projected allocation %s%% > limit %s%%", projectedPct, l.MaxAllocationPct),
			Severity:    domain.SeverityError,
		}}
	}
	return nil
}

// CheckDrawdown checks the producer's own drawdown against its cap.
func (l StrategyLimits) CheckDrawdown(drawdownPct decimal.Decimal) []domain.Violation {
	if drawdownPct.GreaterThanOrEqual(l.MaxDrawdownPct) {
		return []domain.Violation{{
			LimitType:   domain.LimitMaxStrategyDrawdown,
			LimitValue:  l.MaxDrawdownPct.String(),
			ActualValue: drawdownPct.String(),
			Message:     fmt.Sprintf("strategy drawdown %s%% >= limit %s%%", drawdownPct, l.MaxDrawdownPct),
			Severity:    domain.SeverityError,
		}}
	}
	return nil
}

// CheckDailyLoss checks the producer's own daily loss percentage.
func (l StrategyLimits) CheckDailyLoss(dailyLossPct decimal.Decimal) []domain.Violation {
	if dailyLossPct.GreaterThanOrEqual(l.DailyLossLimitPct) {
		return []domain.Violation{{
			LimitType:   domain.LimitStrategyDailyLoss,
			LimitValue:  l.DailyLossLimitPct.String(),
			ActualValue: dailyLossPct.String(),
			Message:     fmt.Sprintf("strategy daily loss %s%% >= limit %s%%", dailyLossPct, l.DailyLossLimitPct),
			Severity:    domain.SeverityError,
		}}
	}
	return nil
}

// OrderLimits bounds the risk a single order may take on.
type OrderLimits struct {
	MaxRiskPerTradePct  decimal.Decimal
	MaxNotionalPerTrade decimal.Decimal
	MaxPriceDeviation   decimal.Decimal
	MinStockPrice       decimal.Decimal
	MaxQtyPctOfADV      decimal.Decimal
	MinAvgVolume        decimal.Decimal
	BlockedSymbols      map[string]bool
}

// DefaultOrderLimits matches limits.py's OrderLimits defaults.
func DefaultOrderLimits() OrderLimits {
	return OrderLimits{
		MaxRiskPerTradePct:  pct(2.0),
		MaxNotionalPerTrade: decimal.NewFromInt(25000),
		MaxPriceDeviation:   pct(5.0),
		MinStockPrice:       decimal.NewFromInt(5),
		MaxQtyPctOfADV:      pct(10.0),
		MinAvgVolume:        decimal.NewFromInt(500000),
		BlockedSymbols:      map[string]bool{},
	}
}

// CheckPositionSizing checks order notional and risk-percentage caps.
// Matches limits.py's strict `>` for both checks.
func (l OrderLimits) CheckPositionSizing(notional, riskAmount, portfolioValue decimal.Decimal) []domain.Violation {
	var out []domain.Violation
	if notional.GreaterThan(l.MaxNotionalPerTrade) {
		out = append(out, domain.Violation{
			LimitType:   domain.LimitMaxNotional,
			LimitValue:  l.MaxNotionalPerTrade.String(),
			ActualValue: notional.String(),
			Message:     fmt.Sprintf("order notional %s > limit %s", notional.StringFixed(2), l.MaxNotionalPerTrade.StringFixed(2)),
			Severity:    domain.SeverityError,
		})
	}
	if portfolioValue.IsZero() {
		out = append(out, domain.Violation{
			LimitType: domain.LimitPortfolioValueZero,
			Message:   "portfolio value is zero; risk-per-trade check skipped",
			Severity:  domain.SeverityWarning,
		})
		return out
	}
	riskPct := riskAmount.Div(portfolioValue).Mul(decimal.NewFromInt(100))
	if riskPct.GreaterThan(l.MaxRiskPerTradePct) {
		out = append(out, domain.Violation{
			LimitType:   domain.LimitMaxRiskPerTrade,
			LimitValue:  l.MaxRiskPerTradePct.String(),
			ActualValue: riskPct.String(),
			Message:     fmt.Sprintf("risk per trade %s%% > limit %s%%", riskPct.StringFixed(2), l.MaxRiskPerTradePct),
			Severity:    domain.SeverityError,
		})
	}
	return out
}

// CheckPriceSanity checks minimum instrument price, deviation from the last
// traded price, and the blocked-symbol set.
func (l OrderLimits) CheckPriceSanity(symbol string, price, lastPrice decimal.Decimal) []domain.Violation {
	var out []domain.Violation
	if price.LessThan(l.MinStockPrice) {
		out = append(out, domain.Violation{
			LimitType:   domain.LimitMinStockPrice,
			LimitValue:  l.MinStockPrice.String(),
			ActualValue: price.String(),
			Message:     fmt.Sprintf("price %s below minimum %s", price, l.MinStockPrice),
			Severity:    domain.SeverityError,
		})
	}
	if lastPrice.IsPositive() {
		deviation := price.Sub(lastPrice).Abs().Div(lastPrice).Mul(decimal.NewFromInt(100))
		if deviation.GreaterThan(l.MaxPriceDeviation) {
			out = append(out, domain.Violation{
				LimitType:   domain.LimitMaxPriceDeviation,
				LimitValue:  l.MaxPriceDeviation.String(),
				ActualValue: deviation.String(),
				Message:     fmt.Sprintf("price deviation %s%% > limit %s%%", deviation.StringFixed(2), l.MaxPriceDeviation),
				Severity:    domain.SeverityError,
			})
		}
	}
	if l.BlockedSymbols[symbol] {
		out = append(out, domain.Violation{
			LimitType: domain.LimitAssetBlocked,
			Message:   fmt.Sprintf("symbol %s is blocked", symbol),
			Severity:  domain.SeverityError,
		})
	}
	return out
}

// CheckVolume checks average daily volume (warning if too thin) and the
// order's size as a percentage of ADV (error if too large).
func (l OrderLimits) CheckVolume(quantity, avgDailyVolume decimal.Decimal) []domain.Violation {
	var out []domain.Violation
	if avgDailyVolume.LessThan(l.MinAvgVolume) {
		out = append(out, domain.Violation{
			LimitType:   domain.LimitMaxOrderQuantity,
			LimitValue:  l.MinAvgVolume.String(),
			ActualValue: avgDailyVolume.String(),
			Message:     fmt.Sprintf("average daily volume %s below minimum %s", avgDailyVolume, l.MinAvgVolume),
			Severity:    domain.SeverityWarning,
		})
	}
	if avgDailyVolume.IsPositive() {
		qtyPct := quantity.Div(avgDailyVolume).Mul(decimal.NewFromInt(100))
		if qtyPct.GreaterThan(l.MaxQtyPctOfADV) {
			out = append(out, domain.Violation{
				LimitType:   domain.LimitMaxOrderQuantity,
				LimitValue:  l.MaxQtyPctOfADV.String(),
				ActualValue: qtyPct.String(),
				Message:     fmt.Sprintf("order quantity is %s%% of ADV, limit %s%%", qtyPct.StringFixed(2), l.MaxQtyPctOfADV),
				Severity:    domain.SeverityError,
			})
		}
	}
	return out
}

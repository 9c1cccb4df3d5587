// Package riskmanager composes limit definitions, the kill switch, and the
// circuit breaker into the single pre-trade gate spec.md §4.D describes.
// Grounded on _examples/original_source/services/risk/manager.py for the
// exact evaluation order (kill switch -> circuit breaker -> portfolio ->
// strategy -> order limits) and on the teacher's risk/gate.go for the
// sync.RWMutex-guarded-struct-with-zerolog idiom this package follows.
package riskmanager

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"sync"
	"time"

	"github.com/cairnfi/execore/circuitbreaker"
	"github.com/cairnfi/execore/domain"
	"github.com/cairnfi/execore/killswitch"
	"github.com/cairnfi/execore/risklimits"
)

// CheckResult is the structured report returned by CheckOrder.
type CheckResult struct {
	Approved        bool
	Violations      []domain.Violation
	Warnings        []domain.Violation
	RejectionReason string
	Timestamp       time.Time
}

func (r *CheckResult) addViolation(v domain.Violation) {
	if v.Severity == domain.SeverityWarning {
		r.Warnings = append(r.Warnings, v)
		return
	}
	r.Violations = append(r.Violations, v)
	r.Approved = false
	if r.RejectionReason == "" {
		r.RejectionReason = v.Message
	}
}

func (r *CheckResult) addViolations(vs []domain.Violation) {
	for _, v := range vs {
		r.addViolation(v)
	}
}

// OrderContext carries the position/portfolio-state inputs check_order needs
// that are not part of the static limit configuration (spec.md §4.D's
// signature).
type OrderContext struct {
	Symbol            string
	Side              domain.Side
	Quantity          decimal.Decimal
	Price             decimal.Decimal
	ProducerID        string
	PortfolioValue    decimal.Decimal
	CurrentOpenPositions int
	CapitalDeployed   decimal.Decimal
	DailyDrawdownPct  decimal.Decimal
	TotalDrawdownPct  decimal.Decimal
	LastTradedPrice   decimal.Decimal
	AvgDailyVolume    decimal.Decimal
	StopLossPrice     decimal.Decimal
	MarginUsed        decimal.Decimal
}

// RiskManager is the single pre-trade gate. Every candidate order passes
// through CheckOrder.
type RiskManager struct {
	mu sync.RWMutex

	portfolio risklimits.PortfolioLimits
	orderLim  risklimits.OrderLimits
	strategies map[string]*risklimits.StrategyLimits

	kill    *killswitch.KillSwitch
	breaker *circuitbreaker.CircuitBreaker
}

// New builds a RiskManager from explicit configuration objects, per
// spec.md §9's "configuration with enumerated options" design note: no
// untyped maps, no implicit defaults discovered at runtime.
func New(portfolio risklimits.PortfolioLimits, orderLim risklimits.OrderLimits, kill *killswitch.KillSwitch, breaker *circuitbreaker.CircuitBreaker) *RiskManager {
	return &RiskManager{
		portfolio:  portfolio,
		orderLim:   orderLim,
		strategies: map[string]*risklimits.StrategyLimits{},
		kill:       kill,
		breaker:    breaker,
	}
}

// RegisterStrategy registers or replaces limits for a producer.
func (m *RiskManager) RegisterStrategy(limits risklimits.StrategyLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := limits
	m.strategies[limits.StrategyID] = &l
}

// GetStrategyLimits returns the registered limits for a producer, creating
// defaults on first access (manager.py's get_strategy_limits auto-creates).
func (m *RiskManager) GetStrategyLimits(strategyID string) risklimits.StrategyLimits {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.strategies[strategyID]
	if !ok {
		def := risklimits.DefaultStrategyLimits(strategyID)
		m.strategies[strategyID] = &def
		return def
	}
	return *l
}

// CheckOrder is the sole public evaluation operation (spec.md §4.D).
func (m *RiskManager) CheckOrder(ctx OrderContext) CheckResult {
	result := CheckResult{Approved: true, Timestamp: domain.Now()}

	// 1. Kill-switch gate: global first, then producer.
	if m.kill.IsActive("") {
		st := m.kill.GetStatus(1)
		result.addViolation(domain.Violation{
			LimitType: domain.LimitKillSwitchActive,
			Message:   fmt.Sprintf("global kill switch active: %s", st.GlobalReason),
			Severity:  domain.SeverityError,
		})
		return result
	}
	if m.kill.IsActive(ctx.ProducerID) {
		result.addViolation(domain.Violation{
			LimitType: domain.LimitKillSwitchActive,
			Message:   fmt.Sprintf("strategy kill switch active for %s", ctx.ProducerID),
			Severity:  domain.SeverityError,
		})
		return result
	}

	// 2. Circuit breaker: feed drawdowns, then check trip state.
	m.breaker.UpdateDrawdown(ctx.DailyDrawdownPct, ctx.TotalDrawdownPct)
	if m.breaker.IsTripped() {
		result.addViolation(domain.Violation{
			LimitType: domain.LimitKillSwitchActive,
			Message:   "circuit breaker tripped - trading halted",
			Severity:  domain.SeverityError,
		})
		return result
	}

	// 3. Portfolio limits. Drawdown always checked; capital/positions only
	// on opening orders (side == BUY).
	result.addViolations(m.portfolio.CheckDrawdown(ctx.DailyDrawdownPct, ctx.TotalDrawdownPct))
	result.addViolations(m.portfolio.CheckMargin(ctx.MarginUsed))
	if ctx.Side == domain.SideBuy {
		if ctx.PortfolioValue.IsPositive() {
			capitalPct := ctx.CapitalDeployed.Div(ctx.PortfolioValue).Mul(decimal.NewFromInt(100))
			result.addViolations(m.portfolio.CheckCapital(capitalPct))
		}
		result.addViolations(m.portfolio.CheckPositions(ctx.CurrentOpenPositions))
	}

	// 4. Strategy limits.
	limits := m.GetStrategyLimits(ctx.ProducerID)
	if limits.IsPaused {
		result.addViolation(domain.Violation{
			LimitType: domain.LimitMaxStrategyAlloc,
			Message:   fmt.Sprintf("strategy paused: %s", limits.PauseReason),
			Severity:  domain.SeverityError,
		})
	} else {
		if ctx.PortfolioValue.IsPositive() {
			notional := ctx.Quantity.Mul(ctx.Price)
			projected := limits.CurrentAllocation.Add(notional.Div(ctx.PortfolioValue).Mul(decimal.NewFromInt(100)))
			result.addViolations(limits.CheckAllocation(projected))
		}
	}

	// 5. Order limits.
	notional := ctx.Quantity.Mul(ctx.Price)
	riskAmount := orderRiskAmount(ctx)
	result.addViolations(m.orderLim.CheckPositionSizing(notional, riskAmount, ctx.PortfolioValue))
	lastPrice := ctx.LastTradedPrice
	if lastPrice.IsZero() {
		lastPrice = ctx.Price
	}
	result.addViolations(m.orderLim.CheckPriceSanity(ctx.Symbol, ctx.Price, lastPrice))
	adv := ctx.AvgDailyVolume
	if adv.IsZero() {
		adv = decimal.NewFromInt(1000000)
	}
	result.addViolations(m.orderLim.CheckVolume(ctx.Quantity, adv))

	if !result.Approved {
		log.Warn().Str("symbol", ctx.Symbol).Str("producer", ctx.ProducerID).Str("reason", result.RejectionReason).Msg("order rejected by risk manager")
	}
	return result
}

// orderRiskAmount is "(price - stop)*qty" for BUY, "(stop - price)*qty" for
// SELL, or 10% of notional if no stop-loss was supplied, exactly as
// manager.py computes it.
func orderRiskAmount(ctx OrderContext) decimal.Decimal {
	if ctx.StopLossPrice.IsZero() {
		return ctx.Quantity.Mul(ctx.Price).Mul(decimal.NewFromFloat(0.10))
	}
	switch ctx.Side {
	case domain.SideBuy:
		return ctx.Price.Sub(ctx.StopLossPrice).Mul(ctx.Quantity)
	case domain.SideSell:
		return ctx.StopLossPrice.Sub(ctx.Price).Mul(ctx.Quantity)
	default:
		return ctx.Quantity.Mul(ctx.Price).Mul(decimal.NewFromFloat(0.10))
	}
}

// Status is a combined snapshot supplementing manager.py's get_status()
// (SPEC_FULL.md §4).
type Status struct {
	KillSwitch     killswitch.Status
	CircuitBreaker circuitbreaker.Status
	Strategies     map[string]risklimits.StrategyLimits
}

// GetStatus returns the combined risk-manager status snapshot.
func (m *RiskManager) GetStatus() Status {
	m.mu.RLock()
	strategies := make(map[string]risklimits.StrategyLimits, len(m.strategies))
	for id, l := range m.strategies {
		strategies[id] = *l
	}
	m.mu.RUnlock()
	return Status{
		KillSwitch:     m.kill.GetStatus(20),
		CircuitBreaker: m.breaker.GetStatus(),
		Strategies:     strategies,
	}
}

// ActivateKillSwitch and DeactivateKillSwitch delegate to the underlying
// kill switch, optionally scoped to one producer, matching manager.py's
// activate_kill_switch/deactivate_kill_switch routing.
func (m *RiskManager) ActivateKillSwitch(producerID, reason, triggeredBy string) killswitch.Event {
	if producerID == "" {
		return m.kill.ActivateGlobal(reason, triggeredBy)
	}
	return m.kill.ActivateStrategy(producerID, reason, triggeredBy)
}

func (m *RiskManager) DeactivateKillSwitch(producerID, adminCode, reason string) (killswitch.Event, error) {
	if producerID == "" {
		return m.kill.DeactivateGlobal(adminCode, reason)
	}
	return m.kill.DeactivateStrategy(producerID, adminCode, reason)
}

// Package config loads process configuration from the environment, in the
// same typed-default style as the teacher's risk/manager.go
// (envDecimalRM/envIntRM) and risk/gate.go (NewRiskGate's env reads), plus
// github.com/joho/godotenv for loading a local .env file before those reads
// happen — spec.md §6's "CLI / environment" note: "None within core scope.
// A host application may expose any of the above; the admin code is read
// from a named environment variable with a safe default only suitable for
// tests."
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/circuitbreaker"
	"github.com/cairnfi/execore/risklimits"
)

// LoadDotEnv loads a .env file if present; missing files are not an error,
// matching every cmd/ entrypoint in the teacher repo.
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		log.Debug().Str("path", path).Msg("no .env file loaded")
	}
}

func envDecimal(key string, fallback float64) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	return decimal.NewFromFloat(fallback)
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func envString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// AdminCode reads EXECORE_ADMIN_CODE and returns "" when it is unset;
// killswitch.New then falls back to the test-only killswitch.DefaultAdminCode.
func AdminCode() string {
	return envString("EXECORE_ADMIN_CODE", "")
}

// PortfolioLimitsFromEnv builds portfolio limits from
// EXECORE_MAX_DAILY_DRAWDOWN_PCT / EXECORE_MAX_TOTAL_DRAWDOWN_PCT /
// EXECORE_MAX_CAPITAL_DEPLOYED_PCT / EXECORE_MAX_OPEN_POSITIONS /
// EXECORE_MAX_MARGIN_USAGE, falling back to risklimits.DefaultPortfolioLimits.
func PortfolioLimitsFromEnv() risklimits.PortfolioLimits {
	d := risklimits.DefaultPortfolioLimits()
	return risklimits.PortfolioLimits{
		MaxDailyDrawdownPct:   envDecimal("EXECORE_MAX_DAILY_DRAWDOWN_PCT", d.MaxDailyDrawdownPct.InexactFloat64()),
		MaxTotalDrawdownPct:   envDecimal("EXECORE_MAX_TOTAL_DRAWDOWN_PCT", d.MaxTotalDrawdownPct.InexactFloat64()),
		MaxCapitalDeployedPct: envDecimal("EXECORE_MAX_CAPITAL_DEPLOYED_PCT", d.MaxCapitalDeployedPct.InexactFloat64()),
		MaxOpenPositions:      envInt("EXECORE_MAX_OPEN_POSITIONS", d.MaxOpenPositions),
		MaxMarginUsage:        envDecimal("EXECORE_MAX_MARGIN_USAGE", d.MaxMarginUsage.InexactFloat64()),
	}
}

// OrderLimitsFromEnv builds order limits from environment variables,
// falling back to risklimits.DefaultOrderLimits.
func OrderLimitsFromEnv() risklimits.OrderLimits {
	d := risklimits.DefaultOrderLimits()
	return risklimits.OrderLimits{
		MaxRiskPerTradePct:  envDecimal("EXECORE_MAX_RISK_PER_TRADE_PCT", d.MaxRiskPerTradePct.InexactFloat64()),
		MaxNotionalPerTrade: envDecimal("EXECORE_MAX_NOTIONAL_PER_TRADE", d.MaxNotionalPerTrade.InexactFloat64()),
		MaxPriceDeviation:   envDecimal("EXECORE_MAX_PRICE_DEVIATION_PCT", d.MaxPriceDeviation.InexactFloat64()),
		MinStockPrice:       envDecimal("EXECORE_MIN_STOCK_PRICE", d.MinStockPrice.InexactFloat64()),
		MaxQtyPctOfADV:      envDecimal("EXECORE_MAX_QTY_PCT_OF_ADV", d.MaxQtyPctOfADV.InexactFloat64()),
		MinAvgVolume:        envDecimal("EXECORE_MIN_AVG_VOLUME", d.MinAvgVolume.InexactFloat64()),
		BlockedSymbols:      map[string]bool{},
	}
}

// CircuitBreakerThresholdsFromEnv builds circuit-breaker thresholds from
// environment variables, falling back to circuitbreaker.DefaultThresholds.
func CircuitBreakerThresholdsFromEnv() circuitbreaker.Thresholds {
	d := circuitbreaker.DefaultThresholds()
	return circuitbreaker.Thresholds{
		DailyWarnPct: envDecimal("EXECORE_DAILY_WARN_PCT", d.DailyWarnPct.InexactFloat64()),
		DailyHaltPct: envDecimal("EXECORE_DAILY_HALT_PCT", d.DailyHaltPct.InexactFloat64()),
		TotalWarnPct: envDecimal("EXECORE_TOTAL_WARN_PCT", d.TotalWarnPct.InexactFloat64()),
		TotalHaltPct: envDecimal("EXECORE_TOTAL_HALT_PCT", d.TotalHaltPct.InexactFloat64()),
	}
}

// DurabilityDSN reads EXECORE_DB_DSN, the sqlite-path-or-postgres-DSN read
// by the optional durability wrapper. Empty means durability is disabled.
func DurabilityDSN() string {
	return envString("EXECORE_DB_DSN", "")
}

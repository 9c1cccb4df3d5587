// execored wires the execution and risk control core together as a host
// application would: risk limits -> kill switch -> circuit breaker -> risk
// manager -> OMS -> position tracker, against a paper broker, with an
// optional durability wrapper and Telegram alert sink. Out of scope per
// spec.md §1 (strategy producers, backtesting, the HTTP façade) is not
// reproduced here; this is wiring only.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/broker"
	"github.com/cairnfi/execore/circuitbreaker"
	"github.com/cairnfi/execore/config"
	"github.com/cairnfi/execore/domain"
	"github.com/cairnfi/execore/durability"
	"github.com/cairnfi/execore/killswitch"
	"github.com/cairnfi/execore/notify"
	"github.com/cairnfi/execore/oms"
	"github.com/cairnfi/execore/position"
	"github.com/cairnfi/execore/riskmanager"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	config.LoadDotEnv("")

	log.Info().Str("version", version).Msg("execore starting")

	kill := killswitch.New(config.AdminCode())
	breaker := circuitbreaker.New(kill, config.CircuitBreakerThresholdsFromEnv())

	if sink, err := notify.NewTelegramSink(); err == nil {
		kill.SetAlertSink(sink)
		breaker.SetAlertSink(sink)
	} else {
		log.Debug().Err(err).Msg("telegram alert sink not configured")
	}

	riskMgr := riskmanager.New(config.PortfolioLimitsFromEnv(), config.OrderLimitsFromEnv(), kill, breaker)

	orders := oms.New()
	positions := position.New()
	paperBroker := broker.NewPaperClient(decimal.NewFromInt(100000))

	var store *durability.Store
	if dsn := config.DurabilityDSN(); dsn != "" {
		var err error
		store, err = durability.Open(dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open durability store")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("shutting down execore")
		if store != nil {
			if err := store.SnapshotOrders(orders); err != nil {
				log.Error().Err(err).Msg("failed to snapshot orders on shutdown")
			}
			if err := store.SnapshotPositions(positions); err != nil {
				log.Error().Err(err).Msg("failed to snapshot positions on shutdown")
			}
		}
		cancel()
	}()

	demoOrder(ctx, riskMgr, orders, positions, paperBroker)

	<-ctx.Done()
}

// demoOrder exercises the happy path end to end (spec.md §8's S1 scenario),
// so the wiring above is not dead code: a candidate order passes the risk
// gate, is created in the OMS, submitted and filled against the paper
// broker, and folds into the position tracker.
func demoOrder(ctx context.Context, riskMgr *riskmanager.RiskManager, orders *oms.OMS, positions *position.Tracker, client broker.Client) {
	intent := domain.OrderIntent{
		Symbol:        "AAPL",
		Side:          domain.SideBuy,
		Quantity:      decimal.NewFromInt(100),
		Kind:          domain.KindLimit,
		LimitPrice:    decimal.NewFromFloat(150.00),
		StopPrice:     decimal.Zero,
		TimeInForce:   domain.TIFDay,
		ProducerID:    "p1",
		ClientOrderID: orders.GenerateClientOrderID("p1", "AAPL"),
		StopLossPrice: decimal.NewFromFloat(147.00),
	}

	result := riskMgr.CheckOrder(riskmanager.OrderContext{
		Symbol:               intent.Symbol,
		Side:                 intent.Side,
		Quantity:             intent.Quantity,
		Price:                intent.LimitPrice,
		ProducerID:           intent.ProducerID,
		PortfolioValue:       decimal.NewFromInt(100000),
		CurrentOpenPositions: 5,
		CapitalDeployed:      decimal.NewFromInt(40000),
		StopLossPrice:        intent.StopLossPrice,
	})
	if !result.Approved {
		log.Warn().Str("reason", result.RejectionReason).Msg("demo order rejected")
		return
	}

	managed := orders.CreateOrder(intent)

	placed, err := client.PlaceOrder(ctx, broker.OrderRequest{
		ClientOrderID: managed.ClientOrderID,
		Symbol:        managed.Symbol,
		Side:          managed.Side,
		Quantity:      managed.Quantity,
		Kind:          managed.Kind,
		LimitPrice:    managed.LimitPrice,
		TimeInForce:   managed.TimeInForce,
	})
	if err != nil {
		log.Error().Err(err).Msg("demo order placement failed")
		return
	}

	if err := orders.SubmitOrder(managed.ClientOrderID, placed.BrokerOrderID); err != nil {
		log.Error().Err(err).Msg("demo order submit failed")
		return
	}
	if err := orders.FillOrder(placed.BrokerOrderID, placed.FilledQuantity, placed.AverageFillPrice, decimal.NewFromInt(1)); err != nil {
		log.Error().Err(err).Msg("demo order fill failed")
		return
	}

	positions.OpenPosition(managed.Symbol, managed.ProducerID, managed.Quantity, placed.AverageFillPrice)
	log.Info().Str("symbol", managed.Symbol).Str("qty", managed.Quantity.String()).Msg("demo order filled and position opened")
}

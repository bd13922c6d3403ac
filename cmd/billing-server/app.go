package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medflow/billing/internal/config"
	"github.com/medflow/billing/internal/domain/billing"
	"github.com/medflow/billing/internal/domain/insurance"
	"github.com/medflow/billing/internal/domain/registry"
	"github.com/medflow/billing/internal/domain/revenue"
	"github.com/medflow/billing/internal/domain/tariff"
	"github.com/medflow/billing/internal/platform/db"
	"github.com/medflow/billing/internal/platform/metrics"
	"github.com/medflow/billing/internal/platform/notification"
)

// app is the wired service graph shared by the server and the one-shot
// commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	dispatcher *notification.Dispatcher
	kafka      *notification.KafkaSink

	tariffs   *tariff.Service
	ledger    *billing.Ledger
	payments  *billing.PaymentProcessor
	policies  *insurance.PolicyStore
	preauths  *insurance.PreAuthWorkflow
	claims    *insurance.ClaimWorkflow
	sweeper   *insurance.Sweeper
	revenue   *revenue.Service
}

// buildSinks returns the notification sinks enabled by cfg. The log sink is
// always present.
func buildSinks(cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) ([]notification.Sink, *notification.KafkaSink, error) {
	sinks := []notification.Sink{notification.NewLogSink(logger)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notification.NewWebhookSink(cfg.WebhookURL, cfg.WebhookSecret, logger, m))
	}
	var kafka *notification.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		k, err := notification.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		kafka = k
		sinks = append(sinks, k)
	}
	return sinks, kafka, nil
}

func newApp(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (*app, error) {
	sinks, kafka, err := buildSinks(cfg, logger, m)
	if err != nil {
		return nil, err
	}
	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{
		QueueSize:   cfg.NotifyQueueSize,
		MaxAttempts: cfg.NotifyMaxAttempts,
	}, logger, m, sinks...)

	tx := db.NewTransactor(pool, cfg.TxMaxRetries, logger)
	tx.OnRetry = m.TxRetried
	reg := registry.NewReaderPG(pool)

	tariffs := tariff.NewService(tariff.NewRepoPG(pool), tx, logger)

	billRepo := billing.NewRepoPG(pool)
	tax := billing.NewTaxPolicy(cfg.TaxRate(), cfg.TaxLabels)
	ledger := billing.NewLedger(billRepo, reg, tariffs, tx, tax, dispatcher, m, logger)
	payments := billing.NewPaymentProcessor(billRepo, tx, dispatcher, m, logger)

	policyRepo := insurance.NewPolicyRepoPG(pool)
	preauthRepo := insurance.NewPreAuthRepoPG(pool)
	claimRepo := insurance.NewClaimRepoPG(pool)
	ledger.SetClaimChecker(claimRepo)

	return &app{
		cfg:        cfg,
		logger:     logger,
		dispatcher: dispatcher,
		kafka:      kafka,
		tariffs:    tariffs,
		ledger:     ledger,
		payments:   payments,
		policies:   insurance.NewPolicyStore(policyRepo, reg, logger),
		preauths:   insurance.NewPreAuthWorkflow(preauthRepo, policyRepo, reg, tx, dispatcher, m, logger),
		claims:     insurance.NewClaimWorkflow(claimRepo, policyRepo, ledger, payments, tx, dispatcher, m, logger),
		sweeper:    insurance.NewSweeper(preauthRepo, claimRepo, tx, dispatcher, logger),
		revenue:    revenue.NewService(revenue.NewRepoPG(pool), logger),
	}, nil
}

// registerRoutes mounts every domain handler on the API group.
func (a *app) registerRoutes(api *echo.Group) {
	tariff.NewHandler(a.tariffs).RegisterRoutes(api)
	billing.NewHandler(a.ledger, a.payments).RegisterRoutes(api)
	insurance.NewHandler(a.policies, a.preauths, a.claims).RegisterRoutes(api)
	revenue.NewHandler(a.revenue).RegisterRoutes(api)
}

// close drains queued notifications and releases the Kafka client.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.dispatcher.Close(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("notifications not fully drained")
	}
	if a.kafka != nil {
		if err := a.kafka.Close(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("kafka close failed")
		}
	}
}

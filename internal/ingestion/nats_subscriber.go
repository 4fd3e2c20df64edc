package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"HedgeCore/internal/observability"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds events
// into the deterministic core via the eventChan. JetStream is the primary
// high-throughput ingestion surface; each subject maps to an event type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is the parsed-but-untyped event from NATS, ready for the shell
// to validate and convert into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to event types. Each event type has its
// own subject so producers can scale independently.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "hedge.positions.open.>", EventType: "PositionOpen", ConsumerName: "core-pos-open", StreamName: "HEDGE_POSITIONS"},
		{Subject: "hedge.positions.margin_add.>", EventType: "MarginAdd", ConsumerName: "core-margin-add", StreamName: "HEDGE_POSITIONS"},
		{Subject: "hedge.positions.margin_remove.>", EventType: "MarginRemove", ConsumerName: "core-margin-remove", StreamName: "HEDGE_POSITIONS"},
		{Subject: "hedge.positions.close.>", EventType: "PositionClose", ConsumerName: "core-pos-close", StreamName: "HEDGE_POSITIONS"},
		{Subject: "hedge.positions.liquidate.>", EventType: "PositionLiquidate", ConsumerName: "core-pos-liquidate", StreamName: "HEDGE_POSITIONS"},
		{Subject: "hedge.positions.rewards.>", EventType: "RewardClaim", ConsumerName: "core-reward-claim", StreamName: "HEDGE_POSITIONS"},
		{Subject: "hedge.vault.mint.>", EventType: "VaultMint", ConsumerName: "core-vault-mint", StreamName: "HEDGE_VAULT"},
		{Subject: "hedge.vault.redeem.>", EventType: "VaultRedeem", ConsumerName: "core-vault-redeem", StreamName: "HEDGE_VAULT"},
		{Subject: "hedge.vault.debit.>", EventType: "RedemptionDebit", ConsumerName: "core-vault-debit", StreamName: "HEDGE_VAULT"},
		{Subject: "hedge.rates.>", EventType: "RateUpdate", ConsumerName: "core-rates", StreamName: "HEDGE_RATES"},
		{Subject: "hedge.depositors.deposit.>", EventType: "UserDeposit", ConsumerName: "core-user-deposit", StreamName: "HEDGE_DEPOSITORS"},
		{Subject: "hedge.depositors.withdraw.>", EventType: "UserWithdraw", ConsumerName: "core-user-withdraw", StreamName: "HEDGE_DEPOSITORS"},
		{Subject: "hedge.yield.deposit.>", EventType: "YieldDeposit", ConsumerName: "core-yield-deposit", StreamName: "HEDGE_YIELD"},
		{Subject: "hedge.yield.batch.>", EventType: "YieldDepositBatch", ConsumerName: "core-yield-batch", StreamName: "HEDGE_YIELD"},
		{Subject: "hedge.yield.claim.>", EventType: "YieldClaim", ConsumerName: "core-yield-claim", StreamName: "HEDGE_YIELD"},
		{Subject: "hedge.yield.distribute.>", EventType: "DistributionUpdate", ConsumerName: "core-distribution", StreamName: "HEDGE_YIELD"},
		{Subject: "hedge.governance.params.>", EventType: "ParamUpdate", ConsumerName: "core-params", StreamName: "HEDGE_GOVERNANCE"},
		{Subject: "hedge.governance.emergency.>", EventType: "EmergencyAction", ConsumerName: "core-emergency", StreamName: "HEDGE_GOVERNANCE"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    observability.NewLogger("ingestion"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	logger := observability.NewLogger("ingestion")
	streams := []jetstream.StreamConfig{
		{
			Name:      "HEDGE_POSITIONS",
			Subjects:  []string{"hedge.positions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "HEDGE_VAULT",
			Subjects:  []string{"hedge.vault.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "HEDGE_RATES",
			Subjects:  []string{"hedge.rates.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "HEDGE_DEPOSITORS",
			Subjects:  []string{"hedge.depositors.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "HEDGE_YIELD",
			Subjects:  []string{"hedge.yield.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "HEDGE_GOVERNANCE",
			Subjects:  []string{"hedge.governance.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}

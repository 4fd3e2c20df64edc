package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"HedgeCore/internal/observability"
)

// OutboundPublisher publishes processed events to NATS for downstream
// consumers (vault adapters, monitoring, keepers). Outbound events are
// published after persistence is confirmed. Subjects follow the pattern
// hedge.core.events.{event_type}; rejections go to hedge.core.rejections.
type OutboundPublisher struct {
	js         jetstream.JetStream
	inputChan  <-chan PublishableEvent
	rejectChan <-chan PublishableRejection
	logger     zerolog.Logger
}

// PublishableEvent is a processed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Partition      string      `json:"partition"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

// PublishableRejection is a rejected event notice for upstream producers.
type PublishableRejection struct {
	EventType      string    `json:"event_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	Partition      string    `json:"partition"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, rejectChan <-chan PublishableRejection) *OutboundPublisher {
	return &OutboundPublisher{
		js:         js,
		inputChan:  inputChan,
		rejectChan: rejectChan,
		logger:     observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop. Publish failures are non-fatal:
// downstream consumers can query the event log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().
					Int64("sequence", evt.Sequence).
					Err(err).
					Msg("outbound publish failed")
			}

		case rej, ok := <-op.rejectChan:
			if !ok {
				return nil
			}
			if err := op.publishRejection(ctx, rej); err != nil {
				op.logger.Warn().
					Str("idempotency_key", rej.IdempotencyKey).
					Err(err).
					Msg("rejection publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("hedge.core.events.%s", evt.EventType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

func (op *OutboundPublisher) publishRejection(ctx context.Context, rej PublishableRejection) error {
	data, err := json.Marshal(rej)
	if err != nil {
		return fmt.Errorf("marshal rejection: %w", err)
	}

	_, err = op.js.Publish(ctx, "hedge.core.rejections", data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "HEDGE_CORE_EVENTS",
		Subjects:  []string{"hedge.core.events.>", "hedge.core.rejections"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("publisher")
	logger.Info().Msg("ensured outbound stream HEDGE_CORE_EVENTS")
	return nil
}

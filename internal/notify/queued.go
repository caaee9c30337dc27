package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"presence/internal/metrics"
	"presence/internal/queue"
)

// MessageType tags queued notification payloads.
const MessageType = "attendance.notify"

// Queued hands payloads to a queue; a worker delivers them with Relay.
type Queued struct {
	q queue.Queue
}

func NewQueued(q queue.Queue) *Queued {
	return &Queued{q: q}
}

func (n *Queued) Notify(ctx context.Context, p Payload) error {
	msg, err := queue.NewMessage(MessageType, p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationFailure, err)
	}
	if err := n.q.Publish(ctx, msg); err != nil {
		metrics.Notifications.WithLabelValues("enqueue_failed").Inc()
		return fmt.Errorf("%w: enqueue: %w", ErrNotificationFailure, err)
	}
	metrics.Notifications.WithLabelValues("queued").Inc()
	return nil
}

// Relay consumes queued payloads and delivers each one through n until ctx ends.
// Delivery failures are logged and the message is dropped; there is no retry.
func Relay(ctx context.Context, q queue.Queue, n Notifier, logger zerolog.Logger) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != MessageType {
			logger.Debug().Str("type", msg.Type).Msg("skipping message")
			continue
		}
		var p Payload
		if err := json.Unmarshal(msg.Body, &p); err != nil {
			logger.Error().Err(err).Str("message_id", msg.ID).Msg("undecodable notification")
			continue
		}
		if err := n.Notify(ctx, p); err != nil {
			logger.Error().Err(err).Str("message_id", msg.ID).Str("identity", p.EmployeeID).Msg("notification dropped")
			continue
		}
		logger.Info().Str("message_id", msg.ID).Str("identity", p.EmployeeID).Msg("notification delivered")
	}
	return nil
}

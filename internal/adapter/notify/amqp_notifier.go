// Package notify hands user notifications to the external notification
// dispatcher over AMQP. Fire-and-forget: delivery retries are the
// dispatcher's job.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPNotifier struct {
	ch       *amqp.Channel
	exchange string
}

// NewAMQPNotifier reuses an open connection; the notification dispatcher
// binds a queue on notify.# from the same exchange the events use.
func NewAMQPNotifier(conn *amqp.Connection, exchange string) (*AMQPNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPNotifier{ch: ch, exchange: exchange}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, userID uuid.UUID, urgency string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"user_id": userID.String(),
		"urgency": urgency,
		"payload": payload,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return n.ch.PublishWithContext(ctx, n.exchange, "notify."+urgency, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (n *AMQPNotifier) Close() error {
	if n.ch != nil {
		return n.ch.Close()
	}
	return nil
}

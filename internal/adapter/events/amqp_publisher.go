// Package events carries every state change out of the engine over an
// AMQP topic exchange. Messages are keyed by court id so consumers see
// per-court order; each carries the unique event id for dedup.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *Publisher) Publish(ctx context.Context, e domain.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, e.Key, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   e.ID.String(),
		// Per-court ordering partition key for consumers that shard.
		Headers: amqp.Table{"x-partition-key": e.CourtID.String()},
		Body:    body,
	})
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

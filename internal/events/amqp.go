// README: AMQP publisher for order events (topic exchange, JSON bodies).
package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const orderExchange = "dispatch.orders"

type AMQPPublisher struct {
	ch  *amqp.Channel
	log *zap.Logger
}

func NewAMQPPublisher(conn *amqp.Connection, log *zap.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(orderExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring exchange %s: %w", orderExchange, err)
	}
	return &AMQPPublisher{ch: ch, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling order event: %w", err)
	}
	routingKey := "order." + string(ev.Type)
	err = p.ch.PublishWithContext(ctx, orderExchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", routingKey, err)
	}
	p.log.Debug("order event published",
		zap.String("routing_key", routingKey),
		zap.String("order_id", string(ev.OrderID)))
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// README: RabbitMQ connection with bounded retry and backoff.
package infra

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	amqpMaxRetries = 5
	amqpBackoff    = 2 * time.Second
)

// NewAMQP dials RabbitMQ, retrying a few times so the binary survives the
// broker coming up slightly later in a compose environment.
func NewAMQP(ctx context.Context, url string) (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= amqpMaxRetries; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * amqpBackoff):
		}
	}
	return nil, fmt.Errorf("connecting to rabbitmq after %d attempts: %w", amqpMaxRetries, lastErr)
}

package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange receives every processing event.
const DefaultExchange = "jakebot.events"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes events to a topic exchange with routing key
// "call.<kind>", so other services can react to failures and approvals.
type AMQP struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
	mu       sync.Mutex
}

// NewAMQP dials url and declares the exchange.
func NewAMQP(url, exchange string) (*AMQP, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQP{conn: conn, ch: ch, exchange: exchange}, nil
}

// RoutingKey returns the routing key used for events of kind k.
func RoutingKey(k Kind) string {
	return "call." + string(k)
}

// Notify implements Notifier.
func (a *AMQP) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("amqp: marshal event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	err = a.ch.PublishWithContext(ctx, a.exchange, RoutingKey(ev.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.CallID + ":" + string(ev.Kind),
		Timestamp:    ev.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("amqp: publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is still open.
func (a *AMQP) IsConnected() bool {
	return a.conn != nil && !a.conn.IsClosed()
}

// Ping reports a closed broker connection as an error.
func (a *AMQP) Ping(context.Context) error {
	if !a.IsConnected() {
		return errors.New("amqp: connection closed")
	}
	return nil
}

func (a *AMQP) Close() {
	if c, ok := a.ch.(*amqp.Channel); ok && c != nil {
		_ = c.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	MarketplaceExchange = "ex.marketplace"
	AuditExchange       = "ex.audit"
	DLXName             = "ex.dlx"

	NotificationsQueue = "q.marketplace.notifications"
	AuditQueue         = "q.audit"

	DeadLetterKey = "k.dead"
)

// binding routes a queue to an exchange and gives it a dead-letter twin.
type binding struct {
	exchange string
	queue    string
	keys     []string
}

var bindings = []binding{
	{MarketplaceExchange, NotificationsQueue, []string{"lead.#", "entitlement.#"}},
	{AuditExchange, AuditQueue, []string{"audit.#"}},
}

type RabbitMQ struct {
	Conn *amqp.Connection
	Ch   *amqp.Channel
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := setupTopology(ch); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	return &RabbitMQ{Conn: conn, Ch: ch}, nil
}

func (r *RabbitMQ) Close() error {
	if r.Ch != nil {
		_ = r.Ch.Close()
	}
	if r.Conn != nil {
		return r.Conn.Close()
	}
	return nil
}

// Healthy reports whether the connection is still open.
func (r *RabbitMQ) Healthy() bool {
	return r != nil && r.Conn != nil && !r.Conn.IsClosed()
}

func setupTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLXName, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	for _, b := range bindings {
		dlq := b.queue + ".dlq"
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return err
		}
		if err := ch.QueueBind(dlq, dlq, DLXName, false, nil); err != nil {
			return err
		}

		if err := ch.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    DLXName,
			"x-dead-letter-routing-key": dlq,
		}
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, args); err != nil {
			return err
		}
		for _, key := range b.keys {
			if err := ch.QueueBind(b.queue, key, b.exchange, false, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

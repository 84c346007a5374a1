package rabbitmq

import (
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	merr "github.com/next-trace/scg-consumer/contract/errors"
)

// Concrete AMQP connection-backed constructor.

type Config struct {
	URL         string
	Name        string
	ConnTimeout time.Duration
}

// NewWithAMQP dials RabbitMQ, declares the topic exchange on a publishing channel and
// returns an Adapter whose subscriptions open their own channels on the same connection.
func NewWithAMQP(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("rabbitmq url required: %w", merr.ErrInvalidConfig)
	}

	product := cfg.Name
	if product == "" {
		product = "scg-consumer"
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": product},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", errors.Join(merr.ErrTransportDisconnected, err))
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", errors.Join(merr.ErrTransportDisconnected, err))
	}

	if err := pub.ExchangeDeclare(Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = pub.Close()
		_ = conn.Close()

		return nil, nil, fmt.Errorf("rabbitmq declare exchange: %w", errors.Join(merr.ErrTransportDisconnected, err))
	}

	open := func() (Channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}

		return ch, nil
	}

	ad := New(pub, open)
	cleanup := func() {
		_ = ad.Close()
		_ = pub.Close()
		_ = conn.Close()
	}

	return ad, cleanup, nil
}

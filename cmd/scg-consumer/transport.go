package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/next-trace/scg-consumer/adapters/inmemory"
	"github.com/next-trace/scg-consumer/adapters/kafka"
	"github.com/next-trace/scg-consumer/adapters/nats"
	"github.com/next-trace/scg-consumer/adapters/nsq"
	"github.com/next-trace/scg-consumer/adapters/rabbitmq"
	"github.com/next-trace/scg-consumer/config"
	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
)

const defaultConnTimeout = 5 * time.Second

// openTransport connects the adapter named by cfg.Transport.Kind. logger receives the
// client library's own log lines where the library has them.
func openTransport(cfg *config.Config, logger *slog.Logger) (mq.Adapter, func(), error) {
	t := cfg.Transport
	timeout := cfg.ConnTimeoutDuration(defaultConnTimeout)

	switch t.Kind {
	case config.KindMemory:
		b := inmemory.New()
		return b, b.Disconnect, nil
	case config.KindNATS:
		return nats.NewWithNATS(nats.Config{URL: t.URL, Name: t.Name, ConnTimeout: timeout})
	case config.KindRabbitMQ:
		return rabbitmq.NewWithAMQP(rabbitmq.Config{URL: t.URL, Name: t.Name, ConnTimeout: timeout})
	case config.KindKafka:
		return kafka.NewWithKgo(kafka.Config{Brokers: t.Brokers, ClientID: t.Name})
	case config.KindNSQ:
		return nsq.NewWithNSQ(nsq.Config{
			NSQD:        t.URL,
			Lookupd:     t.Brokers,
			Name:        t.Name,
			DialTimeout: timeout,
			Logger:      logger,
		})
	default:
		return nil, nil, fmt.Errorf("transport kind %q: %w", t.Kind, merr.ErrInvalidConfig)
	}
}

package nats

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	merr "github.com/next-trace/scg-consumer/contract/errors"
)

// Concrete NATS connection-backed Client and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
}

type natsClient struct {
	nc     *nats.Conn
	closed chan struct{}
}

func (c *natsClient) Publish(subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data}

	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Add(k, v)
		}
	}

	if err := c.nc.PublishMsg(msg); err != nil {
		return err
	}

	return c.nc.Flush()
}

func (c *natsClient) QueueSubscribe(subject, queue string, ch chan *nats.Msg) (Unsubscriber, error) {
	sub, err := c.nc.ChanQueueSubscribe(subject, queue, ch)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (c *natsClient) Closed() <-chan struct{} { return c.closed }

// NewWithNATS creates a real NATS connection and returns an Adapter and a cleanup.
func NewWithNATS(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("nats url required: %w", merr.ErrInvalidConfig)
	}

	client := &natsClient{closed: make(chan struct{})}

	var once sync.Once

	opts := []nats.Option{
		nats.ClosedHandler(func(*nats.Conn) { once.Do(func() { close(client.closed) }) }),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", errors.Join(merr.ErrTransportDisconnected, err))
	}

	client.nc = nc

	cleanup := func() {
		if !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return New(client), cleanup, nil
}

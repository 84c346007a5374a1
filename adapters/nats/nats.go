package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
)

const (
	// ConfigMaxInFlight sizes the per-subscription delivery buffer.
	ConfigMaxInFlight = "max_in_flight"
	// DefaultMaxInFlight applies when the topic config does not set max_in_flight.
	DefaultMaxInFlight = 256

	headerMessageID = "Nats-Msg-Id"
)

// Unsubscriber is the part of *nats.Subscription a subscription needs.
type Unsubscriber interface {
	Unsubscribe() error
}

// Client is the minimal NATS surface the adapter needs. The connection-backed
// implementation is built by NewWithNATS; tests provide fakes.
type Client interface {
	// Publish publishes a message to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
	// QueueSubscribe delivers messages for subject to ch, load-balanced across queue.
	QueueSubscribe(subject, queue string, ch chan *nats.Msg) (Unsubscriber, error)
	// Closed is closed once the connection is permanently lost.
	Closed() <-chan struct{}
}

// Adapter implements mq.Adapter over core NATS: topic maps to subject, channel to queue group.
type Adapter struct {
	Client Client
}

var _ mq.Adapter = (*Adapter)(nil)

// New creates a new NATS adapter instance with the provided client.
func New(c Client) *Adapter { return &Adapter{Client: c} }

// Publish sends body to the topic's subject. A message ID header is added when absent.
func (a *Adapter) Publish(ctx context.Context, topic string, body []byte, headers map[string]string) error {
	if err := a.ready(ctx, merr.ErrPublishFailed, "publish"); err != nil {
		return err
	}

	h := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		h[k] = v
	}

	if h[headerMessageID] == "" {
		h[headerMessageID] = uuid.NewString()
	}

	if err := a.Client.Publish(topic, body, h); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats publish: %w", errors.Join(merr.ErrPublishFailed, err))
	}

	return nil
}

// Subscribe joins channel's queue group on the topic subject.
func (a *Adapter) Subscribe(ctx context.Context, topic, channel string, cfg map[string]any) (mq.Subscription, error) {
	if err := a.ready(ctx, merr.ErrSubscribeFailed, "subscribe"); err != nil {
		return nil, err
	}

	ch := make(chan *nats.Msg, mq.IntOr(cfg, ConfigMaxInFlight, DefaultMaxInFlight))

	unsub, err := a.Client.QueueSubscribe(topic, channel, ch)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s/%s: %w", topic, channel, errors.Join(merr.ErrSubscribeFailed, err))
	}

	return &subscription{
		topic:  topic,
		ch:     ch,
		unsub:  unsub,
		closed: a.Client.Closed(),
		done:   make(chan struct{}),
	}, nil
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, base)
	}

	return nil
}

type subscription struct {
	topic  string
	ch     chan *nats.Msg
	unsub  Unsubscriber
	closed <-chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Receive(ctx context.Context) (mq.Message, error) {
	select {
	case <-s.done:
		return nil, merr.ErrSubscriptionClosed
	default:
	}

	select {
	case m := <-s.ch:
		return newMessage(s.topic, m), nil
	case <-s.done:
		return nil, merr.ErrSubscriptionClosed
	case <-s.closed:
		return nil, fmt.Errorf("nats %s: connection closed: %w", s.topic, merr.ErrTransportDisconnected)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *subscription) Terminate() error {
	var err error

	s.once.Do(func() {
		close(s.done)

		if uerr := s.unsub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) {
			err = fmt.Errorf("nats unsubscribe %s: %w", s.topic, uerr)
		}
	})

	return err
}

// message wraps a core NATS message. Core NATS delivery is at-most-once, so
// settlement has nothing to tell the server.
type message struct {
	id      string
	topic   string
	body    []byte
	headers map[string]string
}

func newMessage(topic string, m *nats.Msg) *message {
	headers := make(map[string]string, len(m.Header))
	for k := range m.Header {
		headers[k] = m.Header.Get(k)
	}

	id := headers[headerMessageID]
	if id == "" {
		id = uuid.NewString()
	}

	return &message{id: id, topic: topic, body: m.Data, headers: headers}
}

func (m *message) ID() string                 { return m.id }
func (m *message) Topic() string              { return m.topic }
func (m *message) Body() []byte               { return m.body }
func (m *message) Headers() map[string]string { return m.headers }
func (m *message) Ack() error                 { return nil }
func (m *message) Nack() error                { return nil }

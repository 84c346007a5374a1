package inmemory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
)

// DefaultBuffer is the per-channel message buffer when none is configured.
const DefaultBuffer = 1024

// Broker is a thread-safe in-process broker with topic/channel semantics:
// every channel of a topic receives every message, and subscribers sharing a channel
// compete for its messages. Messages published before a topic has any channel are
// held and handed to the first channel created.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	buffer int
	gone   chan struct{}
	once   sync.Once
}

type topic struct {
	channels map[string]chan *Message
	backlog  []*Message
}

// Option configures a Broker.
type Option func(*Broker)

// WithBuffer sets the per-channel buffer size.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// Ensure Broker implements the combined contract.
var _ mq.Adapter = (*Broker)(nil)

// New creates a new in-memory broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		topics: make(map[string]*topic),
		buffer: DefaultBuffer,
		gone:   make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	return b
}

// Publish delivers body to every channel of topicName. It blocks while a channel buffer is full.
func (b *Broker) Publish(ctx context.Context, topicName string, body []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id := uuid.NewString()

	b.mu.Lock()
	if b.disconnected() {
		b.mu.Unlock()
		return fmt.Errorf("inmemory publish %s: %w", topicName, merr.ErrPublishFailed)
	}

	t := b.topic(topicName)
	if len(t.channels) == 0 {
		t.backlog = append(t.backlog, newMessage(id, topicName, body, headers))
		b.mu.Unlock()

		return nil
	}

	targets := make([]chan *Message, 0, len(t.channels))
	for _, ch := range t.channels {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- newMessage(id, topicName, body, headers):
		case <-b.gone:
			return fmt.Errorf("inmemory publish %s: %w", topicName, merr.ErrPublishFailed)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Subscribe attaches to channel on topicName, creating the channel if needed.
func (b *Broker) Subscribe(ctx context.Context, topicName, channel string, _ map[string]any) (mq.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disconnected() {
		return nil, fmt.Errorf("inmemory subscribe %s/%s: %w", topicName, channel, merr.ErrTransportDisconnected)
	}

	t := b.topic(topicName)

	ch, ok := t.channels[channel]
	if !ok {
		ch = make(chan *Message, max(b.buffer, len(t.backlog)))
		for _, m := range t.backlog {
			ch <- m
		}

		t.backlog = nil
		t.channels[channel] = ch
	}

	return &subscription{broker: b, messages: ch, done: make(chan struct{})}, nil
}

// Disconnect simulates losing the broker: pending and future receives fail with
// ErrTransportDisconnected and publishes fail with ErrPublishFailed.
func (b *Broker) Disconnect() {
	b.once.Do(func() { close(b.gone) })
}

// Pending returns the number of buffered, undelivered messages for topic/channel.
func (b *Broker) Pending(topicName, channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topicName]
	if !ok {
		return 0
	}

	if ch, ok := t.channels[channel]; ok {
		return len(ch)
	}

	return len(t.backlog)
}

func (b *Broker) topic(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{channels: make(map[string]chan *Message)}
		b.topics[name] = t
	}

	return t
}

func (b *Broker) disconnected() bool {
	select {
	case <-b.gone:
		return true
	default:
		return false
	}
}

type subscription struct {
	broker   *Broker
	messages chan *Message
	done     chan struct{}
	once     sync.Once
}

func (s *subscription) Receive(ctx context.Context) (mq.Message, error) {
	// a terminated subscription must not hand out further messages
	select {
	case <-s.done:
		return nil, merr.ErrSubscriptionClosed
	default:
	}

	select {
	case m := <-s.messages:
		return m, nil
	case <-s.done:
		return nil, merr.ErrSubscriptionClosed
	case <-s.broker.gone:
		return nil, fmt.Errorf("inmemory receive: %w", merr.ErrTransportDisconnected)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *subscription) Terminate() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Message is the in-memory message handle. It records how it was settled.
type Message struct {
	id      string
	topic   string
	body    []byte
	headers map[string]string

	acks  atomic.Int32
	nacks atomic.Int32
}

var _ mq.Message = (*Message)(nil)

func newMessage(id, topicName string, body []byte, headers map[string]string) *Message {
	return &Message{
		id:      id,
		topic:   topicName,
		body:    append([]byte(nil), body...),
		headers: maps.Clone(headers),
	}
}

func (m *Message) ID() string                 { return m.id }
func (m *Message) Topic() string              { return m.topic }
func (m *Message) Body() []byte               { return m.body }
func (m *Message) Headers() map[string]string { return m.headers }

// Ack marks the message as processed.
func (m *Message) Ack() error {
	m.acks.Add(1)
	return nil
}

// Nack marks the message as failed. The in-memory broker does not redeliver.
func (m *Message) Nack() error {
	m.nacks.Add(1)
	return nil
}

// Acked reports how many times Ack was called.
func (m *Message) Acked() int { return int(m.acks.Load()) }

// Nacked reports how many times Nack was called.
func (m *Message) Nacked() int { return int(m.nacks.Load()) }

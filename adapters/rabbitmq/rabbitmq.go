package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
)

const (
	// Exchange is the durable topic exchange every topic is routed through.
	Exchange     = "topics"
	exchangeKind = "topic"

	// ConfigMaxInFlight sets the channel prefetch count.
	ConfigMaxInFlight = "max_in_flight"
	// ConfigRequeue makes Nack requeue the delivery instead of dropping or dead-lettering it.
	ConfigRequeue = "requeue"
	// DefaultMaxInFlight applies when the topic config does not set max_in_flight.
	DefaultMaxInFlight = 256
)

// Channel is the subset of *amqp.Channel the adapter uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Opener opens a fresh channel; each subscription gets its own so prefetch stays per listener.
type Opener func() (Channel, error)

// Adapter implements mq.Adapter over AMQP 0-9-1.
type Adapter struct {
	Publisher Channel
	Open      Opener

	mu       sync.Mutex
	channels []Channel
}

var _ mq.Adapter = (*Adapter)(nil)

// New builds an adapter publishing on pub and opening subscription channels with open.
func New(pub Channel, open Opener) *Adapter { return &Adapter{Publisher: pub, Open: open} }

// Publish routes body to the topic exchange with the topic as routing key.
func (a *Adapter) Publish(ctx context.Context, topic string, body []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Publisher == nil {
		return fmt.Errorf("rabbitmq publish: %w", merr.ErrPublishFailed)
	}

	var h amqp.Table
	if len(headers) > 0 {
		h = amqp.Table{}
		for k, v := range headers {
			h[k] = v
		}
	}

	err := a.Publisher.PublishWithContext(ctx, Exchange, topic, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Headers:      h,
		ContentType:  "application/octet-stream",
		Body:         body,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq publish: %w", errors.Join(merr.ErrPublishFailed, err))
	}

	return nil
}

// Subscribe declares the "<topic>.<channel>" queue, binds it to the topic and starts consuming.
func (a *Adapter) Subscribe(ctx context.Context, topic, channel string, cfg map[string]any) (mq.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.Open == nil {
		return nil, fmt.Errorf("rabbitmq subscribe: %w", merr.ErrSubscribeFailed)
	}

	ch, err := a.Open()
	if err != nil {
		return nil, subscribeErr(topic, channel, "open channel", err)
	}

	queue := QueueName(topic, channel)
	tag := "scg-" + uuid.NewString()

	deliveries, err := consume(ch, topic, queue, tag, mq.IntOr(cfg, ConfigMaxInFlight, DefaultMaxInFlight))
	if err != nil {
		_ = ch.Close()
		return nil, subscribeErr(topic, channel, "consume", err)
	}

	a.mu.Lock()
	a.channels = append(a.channels, ch)
	a.mu.Unlock()

	requeue, _ := cfg[ConfigRequeue].(bool)

	return &subscription{
		topic:      topic,
		tag:        tag,
		ch:         ch,
		deliveries: deliveries,
		requeue:    requeue,
		done:       make(chan struct{}),
	}, nil
}

// Close closes every channel opened for a subscription.
func (a *Adapter) Close() error {
	a.mu.Lock()
	channels := a.channels
	a.channels = nil
	a.mu.Unlock()

	var errs []error

	for _, ch := range channels {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// QueueName is the durable queue backing a (topic, channel) pair.
func QueueName(topic, channel string) string { return topic + "." + channel }

func consume(ch Channel, topic, queue, tag string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := ch.ExchangeDeclare(Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return nil, err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, err
	}

	if err := ch.QueueBind(queue, topic, Exchange, false, nil); err != nil {
		return nil, err
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}

	return ch.Consume(queue, tag, false, false, false, false, nil)
}

func subscribeErr(topic, channel, step string, err error) error {
	return fmt.Errorf("rabbitmq subscribe %s/%s %s: %w", topic, channel, step, errors.Join(merr.ErrSubscribeFailed, err))
}

type subscription struct {
	topic      string
	tag        string
	ch         Channel
	deliveries <-chan amqp.Delivery
	requeue    bool
	done       chan struct{}
	once       sync.Once
}

func (s *subscription) Receive(ctx context.Context) (mq.Message, error) {
	select {
	case <-s.done:
		return nil, merr.ErrSubscriptionClosed
	default:
	}

	select {
	case d, ok := <-s.deliveries:
		if !ok {
			select {
			case <-s.done:
				return nil, merr.ErrSubscriptionClosed
			default:
			}

			return nil, fmt.Errorf("rabbitmq %s: delivery channel closed: %w", s.topic, merr.ErrTransportDisconnected)
		}

		return newMessage(s.topic, d, s.requeue), nil
	case <-s.done:
		return nil, merr.ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminate cancels the consumer only. The channel stays open so jobs still in the pool
// can settle their deliveries; Adapter.Close releases it.
func (s *subscription) Terminate() error {
	var err error

	s.once.Do(func() {
		close(s.done)

		if cerr := s.ch.Cancel(s.tag, false); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
			err = fmt.Errorf("rabbitmq cancel %s: %w", s.topic, cerr)
		}
	})

	return err
}

type message struct {
	id       string
	topic    string
	delivery amqp.Delivery
	headers  map[string]string
	requeue  bool
	settled  atomic.Bool
}

func newMessage(topic string, d amqp.Delivery, requeue bool) *message {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = fmt.Sprint(v)
	}

	id := d.MessageId
	if id == "" {
		id = uuid.NewString()
	}

	return &message{id: id, topic: topic, delivery: d, headers: headers, requeue: requeue}
}

func (m *message) ID() string                 { return m.id }
func (m *message) Topic() string              { return m.topic }
func (m *message) Body() []byte               { return m.delivery.Body }
func (m *message) Headers() map[string]string { return m.headers }

func (m *message) Ack() error {
	if !m.settled.CompareAndSwap(false, true) {
		return nil
	}

	return m.delivery.Ack(false)
}

func (m *message) Nack() error {
	if !m.settled.CompareAndSwap(false, true) {
		return nil
	}

	return m.delivery.Nack(false, m.requeue)
}

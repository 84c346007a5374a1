package nsq

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"

	gonsq "github.com/nsqio/go-nsq"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
)

const (
	// ConfigMaxInFlight is the consumer's RDY budget and the size of the delivery buffer.
	ConfigMaxInFlight = "max_in_flight"
	// DefaultMaxInFlight applies when the topic config does not set max_in_flight.
	DefaultMaxInFlight = 256

	// HeaderAttempts carries the delivery attempt count of a received message.
	HeaderAttempts = "attempts"
)

// Producer is the part of *nsq.Producer the adapter publishes through.
type Producer interface {
	Publish(topic string, body []byte) error
}

// Consumer is one NSQ consumer, configured but not yet connected.
type Consumer interface {
	AddHandler(handler gonsq.Handler)
	// Connect attaches the consumer to nsqlookupd or nsqd.
	Connect() error
	// Stop begins a graceful stop; Stopped is closed once it completes.
	Stop()
	Stopped() <-chan int
}

// ConsumerFactory creates the consumer for one (topic, channel) subscription.
type ConsumerFactory func(topic, channel string, maxInFlight int) (Consumer, error)

// Adapter implements mq.Adapter over NSQ.
type Adapter struct {
	Producer    Producer
	NewConsumer ConsumerFactory
}

var _ mq.Adapter = (*Adapter)(nil)

// New creates an adapter from a producer and a consumer factory.
func New(p Producer, f ConsumerFactory) *Adapter {
	return &Adapter{Producer: p, NewConsumer: f}
}

// Publish sends body to topic. Headers are not representable in NSQ and are ignored.
func (a *Adapter) Publish(ctx context.Context, topic string, body []byte, _ map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Producer == nil {
		return fmt.Errorf("nsq publish: %w", merr.ErrPublishFailed)
	}

	if err := a.Producer.Publish(topic, body); err != nil {
		return fmt.Errorf("nsq publish %s: %w", topic, errors.Join(merr.ErrPublishFailed, err))
	}

	return nil
}

// Subscribe creates and connects a consumer for topic on channel.
func (a *Adapter) Subscribe(ctx context.Context, topic, channel string, cfg map[string]any) (mq.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.NewConsumer == nil {
		return nil, fmt.Errorf("nsq subscribe: %w", merr.ErrSubscribeFailed)
	}

	maxInFlight := mq.IntOr(cfg, ConfigMaxInFlight, DefaultMaxInFlight)

	c, err := a.NewConsumer(topic, channel, maxInFlight)
	if err != nil {
		return nil, fmt.Errorf("nsq subscribe %s/%s: %w", topic, channel, errors.Join(merr.ErrSubscribeFailed, err))
	}

	s := &subscription{
		topic:    topic,
		consumer: c,
		ch:       make(chan *gonsq.Message, maxInFlight),
		done:     make(chan struct{}),
	}

	c.AddHandler(s)

	if err := c.Connect(); err != nil {
		c.Stop()
		return nil, fmt.Errorf("nsq connect %s/%s: %w", topic, channel, errors.Join(merr.ErrSubscribeFailed, err))
	}

	return s, nil
}

// subscription turns go-nsq's handler callbacks into a pull-based Receive.
type subscription struct {
	topic    string
	consumer Consumer
	ch       chan *gonsq.Message
	done     chan struct{}
	once     sync.Once
}

// HandleMessage hands m to Receive. The listener settles it, so auto-response is off.
// Messages that arrive after Terminate go straight back to nsqd.
func (s *subscription) HandleMessage(m *gonsq.Message) error {
	m.DisableAutoResponse()

	select {
	case <-s.done:
		m.RequeueWithoutBackoff(0)
		return nil
	default:
	}

	select {
	case s.ch <- m:
	case <-s.done:
		m.RequeueWithoutBackoff(0)
	}

	return nil
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
	case <-s.consumer.Stopped():
		return nil, fmt.Errorf("nsq %s: consumer stopped: %w", s.topic, merr.ErrTransportDisconnected)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminate stops the consumer and waits until nsqd has released it. Buffered messages
// nobody received are requeued. Messages already handed out keep their connection open
// until they are settled.
func (s *subscription) Terminate() error {
	s.once.Do(func() {
		close(s.done)
		s.consumer.Stop()

		for {
			select {
			case m := <-s.ch:
				m.RequeueWithoutBackoff(0)
			case <-s.consumer.Stopped():
				return
			}
		}
	})

	return nil
}

type message struct {
	topic string
	m     *gonsq.Message
}

func newMessage(topic string, m *gonsq.Message) *message {
	return &message{topic: topic, m: m}
}

// ID is the nsqd-assigned message ID, hex encoded when it is not printable.
func (m *message) ID() string {
	id := m.m.ID[:]
	for _, b := range id {
		if b < 0x20 || b > 0x7e {
			return hex.EncodeToString(id)
		}
	}

	return string(id)
}

func (m *message) Topic() string { return m.topic }
func (m *message) Body() []byte  { return m.m.Body }

func (m *message) Headers() map[string]string {
	return map[string]string{HeaderAttempts: strconv.Itoa(int(m.m.Attempts))}
}

// Ack finishes the message. go-nsq ignores every response after the first.
func (m *message) Ack() error {
	m.m.Finish()
	return nil
}

// Nack requeues with nsqd's attempt-based delay.
func (m *message) Nack() error {
	m.m.Requeue(-1)
	return nil
}

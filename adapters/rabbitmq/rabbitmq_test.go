package rabbitmq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-consumer/adapters/rabbitmq"
	merr "github.com/next-trace/scg-consumer/contract/errors"
)

type publishCall struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeChannel struct {
	calls      []string
	published  []publishCall
	prefetch   int
	deliveries chan amqp.Delivery
	failOn     string
	pubErr     error
	cancelled  string
	closed     int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) step(name string) error {
	f.calls = append(f.calls, name)
	if f.failOn == name {
		return errors.New(name + " refused")
	}

	return nil
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	return f.step("exchange:" + name + ":" + kind)
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, f.step("queue:" + name)
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	return f.step("bind:" + name + ":" + key + ":" + exchange)
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return f.step("qos")
}

func (f *fakeChannel) Consume(queue, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto ack must be off")
	}

	if err := f.step("consume:" + queue); err != nil {
		return nil, err
	}

	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, _ bool) error {
	f.cancelled = consumer
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, publishCall{exchange, key, msg})
	return f.pubErr
}

func (f *fakeChannel) Close() error {
	f.closed++
	return nil
}

type fakeAcker struct {
	acks, nacks int
	requeue     bool
}

func (a *fakeAcker) Ack(uint64, bool) error {
	a.acks++
	return nil
}

func (a *fakeAcker) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue

	return nil
}

func (a *fakeAcker) Reject(uint64, bool) error { return nil }

func opener(ch *fakeChannel) rabbitmq.Opener {
	return func() (rabbitmq.Channel, error) { return ch, nil }
}

func TestRabbitMQ_Publish(t *testing.T) {
	pub := newFakeChannel()
	ad := rabbitmq.New(pub, nil)

	if err := ad.Publish(t.Context(), "hello", []byte("hello => 1"), map[string]string{"h": "x"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("want 1, got %d", len(pub.published))
	}

	c := pub.published[0]
	if c.exchange != rabbitmq.Exchange || c.routingKey != "hello" {
		t.Fatalf("route mismatch: %s %s", c.exchange, c.routingKey)
	}

	if c.msg.MessageId == "" || c.msg.DeliveryMode != amqp.Persistent || c.msg.Headers["h"] != "x" {
		t.Fatalf("publishing mismatch: %+v", c.msg)
	}
}

func TestRabbitMQ_PublishErrors(t *testing.T) {
	if err := rabbitmq.New(nil, nil).Publish(t.Context(), "hello", nil, nil); !errors.Is(err, merr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	pub := newFakeChannel()
	pub.pubErr = errors.New("channel closed")

	if err := rabbitmq.New(pub, nil).Publish(t.Context(), "hello", nil, nil); !errors.Is(err, merr.ErrPublishFailed) {
		t.Fatalf("want wrapped ErrPublishFailed, got %v", err)
	}

	pub.pubErr = context.DeadlineExceeded

	err := rabbitmq.New(pub, nil).Publish(t.Context(), "hello", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, merr.ErrPublishFailed) {
		t.Fatalf("want bare DeadlineExceeded, got %v", err)
	}
}

func TestRabbitMQ_SubscribeTopology(t *testing.T) {
	ch := newFakeChannel()
	ad := rabbitmq.New(nil, opener(ch))

	if _, err := ad.Subscribe(t.Context(), "hello", "test", map[string]any{"max_in_flight": 10}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := []string{
		"exchange:topics:topic",
		"queue:hello.test",
		"bind:hello.test:hello:topics",
		"qos",
		"consume:hello.test",
	}
	if len(ch.calls) != len(want) {
		t.Fatalf("calls=%v", ch.calls)
	}

	for i := range want {
		if ch.calls[i] != want[i] {
			t.Fatalf("call %d: want %s got %s", i, want[i], ch.calls[i])
		}
	}

	if ch.prefetch != 10 {
		t.Fatalf("prefetch=%d", ch.prefetch)
	}
}

func TestRabbitMQ_SubscribeFailureClosesChannel(t *testing.T) {
	ch := newFakeChannel()
	ch.failOn = "qos"

	_, err := rabbitmq.New(nil, opener(ch)).Subscribe(t.Context(), "hello", "test", nil)
	if !errors.Is(err, merr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed, got %v", err)
	}

	if ch.closed != 1 {
		t.Fatalf("channel not closed")
	}

	if _, err := rabbitmq.New(nil, nil).Subscribe(t.Context(), "hello", "test", nil); !errors.Is(err, merr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed without opener, got %v", err)
	}
}

func TestRabbitMQ_ReceiveSettleTerminate(t *testing.T) {
	ch := newFakeChannel()
	ad := rabbitmq.New(nil, opener(ch))

	sub, err := ad.Subscribe(t.Context(), "hello", "test", map[string]any{"requeue": true})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	acker := &fakeAcker{}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, MessageId: "m-1", Body: []byte("a"), Headers: amqp.Table{"n": int32(1)}}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, Body: []byte("b")}

	first, err := sub.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if first.ID() != "m-1" || first.Topic() != "hello" || first.Headers()["n"] != "1" {
		t.Fatalf("message mismatch: %s %s %v", first.ID(), first.Topic(), first.Headers())
	}

	_ = first.Ack()
	_ = first.Ack()

	second, err := sub.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if second.ID() == "" {
		t.Fatalf("expected generated id")
	}

	_ = second.Nack()

	if acker.acks != 1 || acker.nacks != 1 || !acker.requeue {
		t.Fatalf("settlement: %+v", acker)
	}

	if err := sub.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	if ch.cancelled == "" || ch.closed != 0 {
		t.Fatalf("terminate should cancel without closing: cancelled=%q closed=%d", ch.cancelled, ch.closed)
	}

	if _, err := sub.Receive(t.Context()); !errors.Is(err, merr.ErrSubscriptionClosed) {
		t.Fatalf("want ErrSubscriptionClosed, got %v", err)
	}

	if err := ad.Close(); err != nil || ch.closed != 1 {
		t.Fatalf("close: %v closed=%d", err, ch.closed)
	}
}

func TestRabbitMQ_ClosedDeliveriesMeanDisconnect(t *testing.T) {
	ch := newFakeChannel()

	sub, err := rabbitmq.New(nil, opener(ch)).Subscribe(t.Context(), "hello", "test", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	if _, err := sub.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}

	close(ch.deliveries)

	if _, err := sub.Receive(t.Context()); !errors.Is(err, merr.ErrTransportDisconnected) {
		t.Fatalf("want ErrTransportDisconnected, got %v", err)
	}
}

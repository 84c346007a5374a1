package nsq_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gonsq "github.com/nsqio/go-nsq"

	"github.com/next-trace/scg-consumer/adapters/nsq"
	merr "github.com/next-trace/scg-consumer/contract/errors"
)

type publishCall struct {
	topic string
	body  []byte
}

type fakeProducer struct {
	calls []publishCall
	err   error
}

func (p *fakeProducer) Publish(topic string, body []byte) error {
	p.calls = append(p.calls, publishCall{topic, body})
	return p.err
}

type fakeConsumer struct {
	topic, channel string
	maxInFlight    int
	handler        gonsq.Handler
	connectErr     error
	connected      bool
	stops          int
	stopped        chan int
	once           sync.Once
}

func (c *fakeConsumer) AddHandler(h gonsq.Handler) { c.handler = h }

func (c *fakeConsumer) Connect() error {
	c.connected = c.connectErr == nil
	return c.connectErr
}

func (c *fakeConsumer) Stop() {
	c.stops++
	c.once.Do(func() { close(c.stopped) })
}

func (c *fakeConsumer) Stopped() <-chan int { return c.stopped }

func factoryFor(fc *fakeConsumer) nsq.ConsumerFactory {
	return func(topic, channel string, maxInFlight int) (nsq.Consumer, error) {
		fc.topic, fc.channel, fc.maxInFlight = topic, channel, maxInFlight
		return fc, nil
	}
}

func newFakeConsumer() *fakeConsumer { return &fakeConsumer{stopped: make(chan int)} }

type requeue struct {
	delay   time.Duration
	backoff bool
}

type fakeDelegate struct {
	finished int
	requeued []requeue
}

func (d *fakeDelegate) OnFinish(*gonsq.Message) { d.finished++ }
func (d *fakeDelegate) OnTouch(*gonsq.Message)  {}

func (d *fakeDelegate) OnRequeue(_ *gonsq.Message, delay time.Duration, backoff bool) {
	d.requeued = append(d.requeued, requeue{delay, backoff})
}

func newNSQMessage(id, body string, d gonsq.MessageDelegate) *gonsq.Message {
	var mid gonsq.MessageID
	copy(mid[:], id)

	m := gonsq.NewMessage(mid, []byte(body))
	m.Attempts = 1
	m.Delegate = d

	return m
}

func TestNSQ_Publish(t *testing.T) {
	fp := &fakeProducer{}
	ad := nsq.New(fp, nil)

	if err := ad.Publish(t.Context(), "hello", []byte("hello => 1"), map[string]string{"h1": "v1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(fp.calls) != 1 || fp.calls[0].topic != "hello" || string(fp.calls[0].body) != "hello => 1" {
		t.Fatalf("calls mismatch: %+v", fp.calls)
	}

	fp.err = errors.New("E_BAD_TOPIC")
	if err := ad.Publish(t.Context(), "hello", nil, nil); !errors.Is(err, merr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := ad.Publish(ctx, "hello", nil, nil); !errors.Is(err, context.Canceled) || errors.Is(err, merr.ErrPublishFailed) {
		t.Fatalf("want bare context.Canceled, got %v", err)
	}
}

func TestNSQ_NilClients(t *testing.T) {
	ad := nsq.New(nil, nil)

	if err := ad.Publish(t.Context(), "hello", nil, nil); !errors.Is(err, merr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	if _, err := ad.Subscribe(t.Context(), "hello", "test", nil); !errors.Is(err, merr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed, got %v", err)
	}
}

func TestNSQ_SubscribeConfiguresConsumer(t *testing.T) {
	fc := newFakeConsumer()

	if _, err := nsq.New(nil, factoryFor(fc)).Subscribe(t.Context(), "hello", "test", map[string]any{"max_in_flight": 10}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if fc.topic != "hello" || fc.channel != "test" || fc.maxInFlight != 10 {
		t.Fatalf("consumer args: %s %s %d", fc.topic, fc.channel, fc.maxInFlight)
	}

	if fc.handler == nil || !fc.connected {
		t.Fatalf("handler=%v connected=%v", fc.handler, fc.connected)
	}

	fc2 := newFakeConsumer()
	if _, err := nsq.New(nil, factoryFor(fc2)).Subscribe(t.Context(), "hello", "test", nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if fc2.maxInFlight != nsq.DefaultMaxInFlight {
		t.Fatalf("max_in_flight=%d", fc2.maxInFlight)
	}
}

func TestNSQ_SubscribeFailures(t *testing.T) {
	fc := newFakeConsumer()
	fc.connectErr = errors.New("dial tcp: connection refused")

	if _, err := nsq.New(nil, factoryFor(fc)).Subscribe(t.Context(), "hello", "test", nil); !errors.Is(err, merr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed, got %v", err)
	}

	if fc.stops != 1 {
		t.Fatalf("want consumer stopped after failed connect, stops=%d", fc.stops)
	}

	failing := func(string, string, int) (nsq.Consumer, error) { return nil, errors.New("invalid channel name") }
	if _, err := nsq.New(nil, failing).Subscribe(t.Context(), "hello", "test", nil); !errors.Is(err, merr.ErrSubscribeFailed) {
		t.Fatalf("want ErrSubscribeFailed, got %v", err)
	}
}

func TestNSQ_ReceiveAckNack(t *testing.T) {
	fc := newFakeConsumer()

	sub, err := nsq.New(nil, factoryFor(fc)).Subscribe(t.Context(), "hello", "test", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	d := &fakeDelegate{}

	if err := fc.handler.HandleMessage(newNSQMessage("0123456789abcdef", "hi", d)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if err := fc.handler.HandleMessage(newNSQMessage("fedcba9876543210", "again", d)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msg, err := sub.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if msg.ID() != "0123456789abcdef" || msg.Topic() != "hello" || string(msg.Body()) != "hi" {
		t.Fatalf("message mismatch: %s %s %s", msg.ID(), msg.Topic(), msg.Body())
	}

	if msg.Headers()[nsq.HeaderAttempts] != "1" {
		t.Fatalf("headers: %+v", msg.Headers())
	}

	_ = msg.Ack()
	_ = msg.Nack()

	if d.finished != 1 || len(d.requeued) != 0 {
		t.Fatalf("want one finish, got finished=%d requeued=%v", d.finished, d.requeued)
	}

	msg, err = sub.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	_ = msg.Nack()

	if len(d.requeued) != 1 || d.requeued[0] != (requeue{delay: -1, backoff: true}) {
		t.Fatalf("want requeue(-1) with backoff, got %v", d.requeued)
	}
}

func TestNSQ_TerminateRequeuesBufferedAndStopsOnce(t *testing.T) {
	fc := newFakeConsumer()

	sub, err := nsq.New(nil, factoryFor(fc)).Subscribe(t.Context(), "hello", "test", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	buffered := &fakeDelegate{}
	_ = fc.handler.HandleMessage(newNSQMessage("0123456789abcdef", "never received", buffered))

	if err := sub.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	_ = sub.Terminate()

	if fc.stops != 1 {
		t.Fatalf("want 1 stop, got %d", fc.stops)
	}

	if len(buffered.requeued) != 1 || buffered.requeued[0] != (requeue{delay: 0, backoff: false}) {
		t.Fatalf("want buffered message requeued without backoff, got %v", buffered.requeued)
	}

	late := &fakeDelegate{}
	_ = fc.handler.HandleMessage(newNSQMessage("fedcba9876543210", "late", late))

	if len(late.requeued) != 1 {
		t.Fatalf("want late message requeued, got %v", late.requeued)
	}

	if _, err := sub.Receive(t.Context()); !errors.Is(err, merr.ErrSubscriptionClosed) {
		t.Fatalf("want ErrSubscriptionClosed, got %v", err)
	}
}

func TestNSQ_ReceiveStoppedAndCancel(t *testing.T) {
	fc := newFakeConsumer()

	sub, err := nsq.New(nil, factoryFor(fc)).Subscribe(t.Context(), "hello", "test", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	if _, err := sub.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}

	close(fc.stopped)

	if _, err := sub.Receive(t.Context()); !errors.Is(err, merr.ErrTransportDisconnected) {
		t.Fatalf("want ErrTransportDisconnected, got %v", err)
	}
}

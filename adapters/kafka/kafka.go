package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
)

const (
	// ConfigMaxInFlight bounds how many records one poll returns.
	ConfigMaxInFlight = "max_in_flight"
	// DefaultMaxInFlight applies when the topic config does not set max_in_flight.
	DefaultMaxInFlight = 256

	// HeaderKey, when present in Publish headers, becomes the record key.
	HeaderKey = "key"
)

// Writer produces records. The franz-go implementation is built by NewWithKgo.
type Writer interface {
	Write(ctx context.Context, rec *kgo.Record) error
}

// Reader is one consumer-group member for one topic.
type Reader interface {
	// Poll returns up to max records, blocking until at least one is available.
	Poll(ctx context.Context, max int) ([]*kgo.Record, error)
	// Commit marks the records' offsets as consumed for the group.
	Commit(ctx context.Context, recs ...*kgo.Record) error
	Close()
}

// ReaderFactory joins group on topic.
type ReaderFactory func(topic, group string) (Reader, error)

// Adapter implements mq.Adapter over Kafka: topic maps to topic, channel to consumer group.
type Adapter struct {
	Writer    Writer
	NewReader ReaderFactory

	mu      sync.Mutex
	readers []Reader
}

var _ mq.Adapter = (*Adapter)(nil)

// New creates a new Kafka adapter with the provided writer and reader factory.
func New(w Writer, r ReaderFactory) *Adapter { return &Adapter{Writer: w, NewReader: r} }

// Publish produces body to topic and waits for the broker acknowledgement.
func (a *Adapter) Publish(ctx context.Context, topic string, body []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if a.Writer == nil {
		return fmt.Errorf("kafka publish: %w", merr.ErrPublishFailed)
	}

	rec := &kgo.Record{Topic: topic, Value: body}
	for k, v := range headers {
		if k == HeaderKey {
			rec.Key = []byte(v)
			continue
		}

		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := a.Writer.Write(ctx, rec); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka publish to %q: %w", topic, errors.Join(merr.ErrPublishFailed, err))
	}

	return nil
}

// Subscribe joins consumer group channel on topic.
func (a *Adapter) Subscribe(ctx context.Context, topic, channel string, cfg map[string]any) (mq.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.NewReader == nil {
		return nil, fmt.Errorf("kafka subscribe: %w", merr.ErrSubscribeFailed)
	}

	r, err := a.NewReader(topic, channel)
	if err != nil {
		return nil, fmt.Errorf("kafka subscribe %s/%s: %w", topic, channel, errors.Join(merr.ErrSubscribeFailed, err))
	}

	a.mu.Lock()
	a.readers = append(a.readers, r)
	a.mu.Unlock()

	stopCtx, stop := context.WithCancel(context.Background())

	return &subscription{
		topic:   topic,
		reader:  r,
		max:     mq.IntOr(cfg, ConfigMaxInFlight, DefaultMaxInFlight),
		stopCtx: stopCtx,
		stop:    stop,
	}, nil
}

// Close leaves every consumer group joined through Subscribe.
func (a *Adapter) Close() {
	a.mu.Lock()
	readers := a.readers
	a.readers = nil
	a.mu.Unlock()

	for _, r := range readers {
		r.Close()
	}
}

// subscription buffers one poll's records. Receive is only called from one goroutine.
type subscription struct {
	topic   string
	reader  Reader
	max     int
	pending []*kgo.Record

	stopCtx context.Context
	stop    context.CancelFunc
}

func (s *subscription) Receive(ctx context.Context) (mq.Message, error) {
	for len(s.pending) == 0 {
		if s.stopCtx.Err() != nil {
			return nil, merr.ErrSubscriptionClosed
		}

		pollCtx, cancel := context.WithCancel(ctx)
		release := context.AfterFunc(s.stopCtx, cancel)

		recs, err := s.reader.Poll(pollCtx, s.max)

		release()
		cancel()

		switch {
		case s.stopCtx.Err() != nil:
			return nil, merr.ErrSubscriptionClosed
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			return nil, fmt.Errorf("kafka %s poll: %w", s.topic, errors.Join(merr.ErrTransportDisconnected, err))
		}

		s.pending = recs
	}

	rec := s.pending[0]
	s.pending = s.pending[1:]

	return newMessage(rec, s.reader), nil
}

// Terminate stops polling. The group membership is kept until Adapter.Close so
// in-flight jobs can still commit.
func (s *subscription) Terminate() error {
	s.stop()
	return nil
}

type message struct {
	rec     *kgo.Record
	reader  Reader
	headers map[string]string
	settled atomic.Bool
}

func newMessage(rec *kgo.Record, r Reader) *message {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &message{rec: rec, reader: r, headers: headers}
}

// ID is "<topic>/<partition>/<offset>", unique within the cluster.
func (m *message) ID() string {
	return m.rec.Topic + "/" + strconv.Itoa(int(m.rec.Partition)) + "/" + strconv.FormatInt(m.rec.Offset, 10)
}

func (m *message) Topic() string              { return m.rec.Topic }
func (m *message) Body() []byte               { return m.rec.Value }
func (m *message) Headers() map[string]string { return m.headers }

// Ack commits the record's offset.
func (m *message) Ack() error {
	if !m.settled.CompareAndSwap(false, true) {
		return nil
	}

	return m.reader.Commit(context.Background(), m.rec)
}

// Nack leaves the offset uncommitted. Kafka has no per-record negative acknowledgement.
func (m *message) Nack() error {
	m.settled.Store(true)
	return nil
}

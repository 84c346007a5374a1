/*
Package listener binds one (topic, channel) subscription to a worker pool. Each received
message becomes one job per bound handler; the receive loop runs on its own goroutine so
slow handlers only throttle intake once the pool's queue is full.
*/
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
	"github.com/next-trace/scg-consumer/metrics"
	"github.com/next-trace/scg-consumer/pool"
	"github.com/next-trace/scg-consumer/registry"
)

// State is a listener lifecycle state.
type State int

const (
	Created State = iota
	Started
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Listener owns one worker pool and one transport subscription.
type Listener struct {
	topic     string
	channel   string
	cfg       map[string]any
	handlers  []registry.Resolved
	transport mq.Transport
	autoAck   bool

	workers    int
	capacity   int
	pool       *pool.Pool
	middleware []mq.Middleware

	logger  *slog.Logger
	metrics *metrics.Collectors

	mu       sync.Mutex
	state    State
	sub      mq.Subscription
	cancel   context.CancelFunc
	err      error
	recvDone chan struct{}
	stopped  chan struct{}
}

// New builds a listener for the already-resolved handlers bound to topic/channel.
func New(
	topic, channel string,
	cfg map[string]any,
	handlers []registry.Resolved,
	t mq.Transport,
	opts ...Option,
) *Listener {
	l := &Listener{
		topic:     topic,
		channel:   channel,
		cfg:       cfg,
		handlers:  append([]registry.Resolved(nil), handlers...),
		transport: t,
		autoAck:   true,
		workers:   DefaultWorkers,
		capacity:  DefaultQueueCapacity,
		logger:    slog.New(slog.DiscardHandler),
		recvDone:  make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}

	if n, ok := mq.Int(cfg, ConfigWorkers); ok && n > 0 {
		l.workers = n
	}

	if n, ok := mq.Int(cfg, ConfigQueueCapacity); ok && n > 0 {
		l.capacity = n
	}

	if manual, ok := cfg[ConfigManualAck].(bool); ok {
		l.autoAck = !manual
	}

	l.logger = l.logger.With("topic", topic, "channel", channel)
	l.pool = pool.New(l.workers, l.capacity, pool.WithLogger(l.logger), pool.WithName(topic+"/"+channel))

	return l
}

// Start starts the pool, subscribes and spawns the receive loop.
// ctx scopes the subscribe call; its values (not its cancellation) flow to handlers.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Created {
		return fmt.Errorf("listener %s/%s: start from state %s", l.topic, l.channel, l.state)
	}

	l.pool.Start()

	sub, err := l.transport.Subscribe(ctx, l.topic, l.channel, l.transportConfig())
	if err != nil {
		l.pool.Stop()
		l.state = Stopped
		close(l.recvDone)
		close(l.stopped)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("listener %s/%s subscribe: %w", l.topic, l.channel, errors.Join(merr.ErrSubscribeFailed, err))
	}

	base := context.WithoutCancel(ctx)
	recvCtx, cancel := context.WithCancel(base)

	l.sub = sub
	l.cancel = cancel
	l.state = Started
	l.metrics.ListenerStarted()

	go l.receive(recvCtx, base, sub)

	l.logger.Info("listener started", "handlers", l.Handlers(), "workers", l.workers, "queue_capacity", l.capacity)

	return nil
}

// Stop terminates the subscription, cancels the receive loop and then drains the pool.
// If ctx ends first, Stop returns ctx.Err() and the drain finishes in the background.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case Created:
		l.state = Stopped
		close(l.recvDone)
		close(l.stopped)
	case Started:
		l.state = Stopping

		go l.drain(l.sub, l.cancel)
	case Stopping, Stopped:
	}
	l.mu.Unlock()

	select {
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) drain(sub mq.Subscription, cancel context.CancelFunc) {
	// intake first, so nothing is pushed into a pool that is shutting down
	if err := sub.Terminate(); err != nil {
		l.logger.Warn("terminate subscription", "err", err)
	}

	cancel()
	<-l.recvDone

	l.pool.Stop()

	l.mu.Lock()
	l.state = Stopped
	l.mu.Unlock()

	l.metrics.ListenerStopped()
	l.logger.Info("listener stopped")
	close(l.stopped)
}

func (l *Listener) receive(ctx, jobCtx context.Context, sub mq.Subscription) {
	defer close(l.recvDone)

	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, merr.ErrSubscriptionClosed) {
				return
			}

			if !errors.Is(err, merr.ErrTransportDisconnected) {
				err = errors.Join(merr.ErrTransportDisconnected, err)
			}

			l.fail(fmt.Errorf("listener %s/%s receive: %w", l.topic, l.channel, err))

			return
		}

		l.metrics.MessageReceived(l.topic, l.channel)

		if err := l.dispatch(ctx, jobCtx, msg); err != nil {
			return
		}
	}
}

func (l *Listener) dispatch(ctx, jobCtx context.Context, msg mq.Message) error {
	var s *settlement
	if l.autoAck {
		s = newSettlement(msg, len(l.handlers), l.logger)
	}

	for i, h := range l.handlers {
		if err := l.pool.PushContext(ctx, l.job(jobCtx, h, msg, s)); err != nil {
			l.abandon(msg, s, len(l.handlers)-i, err)
			return err
		}
	}

	return nil
}

// abandon settles the jobs of msg that never reached the pool as failed, so a
// partially dispatched message is nacked once its queued jobs finish.
func (l *Listener) abandon(msg mq.Message, s *settlement, jobs int, err error) {
	l.logger.Debug("dispatch interrupted", "message_id", msg.ID(), "undispatched", jobs, "err", err)

	if s == nil {
		return
	}

	for range jobs {
		s.done(err)
	}
}

func (l *Listener) job(ctx context.Context, h registry.Resolved, msg mq.Message, s *settlement) pool.Job {
	return func() error {
		start := time.Now()
		err := l.invoke(ctx, h, msg)
		l.metrics.JobDone(l.topic, h.TypeName, time.Since(start), err)

		if s != nil {
			s.done(err)
		}

		if err != nil {
			return fmt.Errorf("%s on %s message %s: %w", h.TypeName, l.topic, msg.ID(), err)
		}

		return nil
	}
}

// invoke builds a fresh responder, wraps it in the middleware chain and runs it. Panics,
// including ones from the factory, become ErrHandlerExecution.
func (l *Listener) invoke(ctx context.Context, h registry.Resolved, msg mq.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("responder panicked: %v: %w", r, merr.ErrHandlerExecution)
		}
	}()

	if err := mq.Chain(h.New(), l.middleware...).Respond(ctx, msg); err != nil {
		return errors.Join(merr.ErrHandlerExecution, err)
	}

	return nil
}

func (l *Listener) fail(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()

	l.metrics.TransportError(l.topic, l.channel)
	l.logger.Error("receive loop ended", "err", err)
}

// transportConfig strips the keys the listener consumes.
func (l *Listener) transportConfig() map[string]any {
	out := make(map[string]any, len(l.cfg))
	for k, v := range l.cfg {
		switch k {
		case ConfigWorkers, ConfigQueueCapacity, ConfigManualAck:
		default:
			out[k] = v
		}
	}

	return out
}

// Topic returns the subscribed topic.
func (l *Listener) Topic() string { return l.topic }

// Channel returns the subscribed channel.
func (l *Listener) Channel() string { return l.channel }

// Handlers returns the resolved handler type names in binding order.
func (l *Listener) Handlers() []string {
	out := make([]string, len(l.handlers))
	for i, h := range l.handlers {
		out[i] = h.TypeName
	}

	return out
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

// Err returns the transport failure that ended the receive loop, if any.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.err
}

// ReceiveDone is closed when the receive loop has exited, for any reason.
func (l *Listener) ReceiveDone() <-chan struct{} { return l.recvDone }

// Done is closed once the listener reaches Stopped.
func (l *Listener) Done() <-chan struct{} { return l.stopped }

/*
Package consumer is the orchestrator: it draws the route table, resolves every binding once,
starts one listener per (topic, channel), blocks until a termination signal or cancellation,
and then stops every listener.
*/
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
	"github.com/next-trace/scg-consumer/listener"
	"github.com/next-trace/scg-consumer/metrics"
	"github.com/next-trace/scg-consumer/registry"
	"github.com/next-trace/scg-consumer/routing"
)

// State is an orchestrator lifecycle state.
type State int

const (
	Idle State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// group is one (topic, channel) subscription with its resolved handlers.
type group struct {
	topic    string
	channel  string
	cfg      map[string]any
	handlers []registry.Resolved
}

// Consumer owns the route table and the listeners built from it.
type Consumer struct {
	transport mq.Transport
	registry  *registry.Registry
	source    mq.ConfigSource

	logger          *slog.Logger
	metrics         *metrics.Collectors
	workers         int
	capacity        int
	shutdownTimeout time.Duration
	signals         []os.Signal
	middleware      []mq.Middleware

	table  *routing.Table
	groups []group

	mu        sync.Mutex
	state     State
	listeners []*listener.Listener

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs an idle Consumer consuming through t and resolving handlers from reg.
func New(t mq.Transport, reg *registry.Registry, opts ...Option) *Consumer {
	c := &Consumer{
		transport:       t,
		registry:        reg,
		logger:          slog.New(slog.DiscardHandler),
		shutdownTimeout: DefaultShutdownTimeout,
		signals:         []os.Signal{os.Interrupt, syscall.SIGTERM},
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	return c
}

// Draw builds the route table and resolves each binding once. Declaration errors are
// returned and abort startup; a binding whose handler cannot be resolved is logged and skipped.
func (c *Consumer) Draw(fn func(r *routing.Builder)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		return fmt.Errorf("draw routes: consumer is %s", c.state)
	}

	var opts []routing.BuilderOption
	if c.source != nil {
		opts = append(opts, routing.WithConfigSource(c.source))
	}

	table, err := routing.Draw(fn, opts...)
	if err != nil {
		return err
	}

	var groups []group

	for _, g := range table.Groups() {
		var handlers []registry.Resolved

		for _, b := range g.Bindings {
			res, err := c.registry.Resolve(b.HandlerID)
			if err != nil {
				c.logger.Error("binding skipped", "topic", b.Topic, "channel", b.Channel, "handler", b.HandlerID, "err", err)
				continue
			}

			handlers = append(handlers, res)
		}

		if len(handlers) == 0 {
			continue
		}

		if keys := g.Conflicts(); len(keys) > 0 {
			c.logger.Warn("conflicting binding config, first binding wins", "topic", g.Topic, "channel", g.Channel, "keys", keys)
		}

		groups = append(groups, group{topic: g.Topic, channel: g.Channel, cfg: g.Config(), handlers: handlers})
	}

	c.table = table
	c.groups = groups

	return nil
}

// Run starts every listener and blocks until a termination signal, Shutdown or ctx ends,
// then stops them all. It returns nil after an orderly shutdown and the startup error if
// any listener failed to start (after stopping those already started).
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return fmt.Errorf("run: consumer is %s", c.state)
	}

	if c.table == nil {
		c.mu.Unlock()
		return fmt.Errorf("run: no routes drawn: %w", merr.ErrMissingHandlerBinding)
	}

	if len(c.groups) == 0 {
		c.state = Stopped
		c.mu.Unlock()
		close(c.done)

		return fmt.Errorf("run: no resolvable bindings: %w", merr.ErrHandlerNotFound)
	}

	c.state = Running
	c.mu.Unlock()

	defer close(c.done)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, c.signals...)
	defer signal.Stop(sigs)

	go c.watch(sigs)

	if err := c.startListeners(ctx); err != nil {
		c.logger.Error("startup failed", "err", err)
		c.requestStop()

		return errors.Join(err, c.shutdown())
	}

	c.logger.Info("consumer running", "listeners", len(c.groups), "topics", c.table.Topics())

	select {
	case <-c.stop:
	case <-ctx.Done():
		c.requestStop()
	}

	return c.shutdown()
}

// Shutdown asks a running consumer to stop and waits until Run has finished or ctx ends.
// Calling it on a consumer that never ran marks it stopped.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Idle {
		c.state = Stopped
		c.mu.Unlock()
		c.requestStop()

		return nil
	}
	c.mu.Unlock()

	c.requestStop()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) startListeners(ctx context.Context) error {
	for _, g := range c.groups {
		l := listener.New(g.topic, g.channel, g.cfg, g.handlers, c.transport,
			listener.WithLogger(c.logger),
			listener.WithMetrics(c.metrics),
			listener.WithPoolSize(c.workers),
			listener.WithQueueCapacity(c.capacity),
			listener.WithMiddleware(c.middleware...),
		)

		c.mu.Lock()
		c.listeners = append(c.listeners, l)
		c.mu.Unlock()

		if err := l.Start(ctx); err != nil {
			return err
		}
	}

	return nil
}

// watch turns termination signals into a single stop request.
func (c *Consumer) watch(sigs <-chan os.Signal) {
	for {
		select {
		case sig := <-sigs:
			if c.requestStop() {
				c.logger.Info("signal received, shutting down", "signal", sig.String())
			} else {
				c.logger.Debug("signal ignored, already shutting down", "signal", sig.String())
			}
		case <-c.done:
			return
		}
	}
}

// requestStop flips the stop flag; it reports whether this call did so.
func (c *Consumer) requestStop() bool {
	flipped := false
	c.stopOnce.Do(func() {
		close(c.stop)
		flipped = true
	})

	return flipped
}

// shutdown stops every listener concurrently, bounded by the shutdown timeout.
func (c *Consumer) shutdown() error {
	c.mu.Lock()
	c.state = ShuttingDown
	listeners := append([]*listener.Listener(nil), c.listeners...)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, l := range listeners {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := l.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop listener %s/%s: %w", l.Topic(), l.Channel(), err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()

	c.logger.Info("consumer stopped", "listeners", len(listeners))

	return errors.Join(errs...)
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Routes returns the drawn route table, or nil before Draw.
func (c *Consumer) Routes() *routing.Table {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.table
}

// Listeners returns the listeners created by Run.
func (c *Consumer) Listeners() []*listener.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*listener.Listener(nil), c.listeners...)
}

// Healthy reports an error unless the consumer is running with every receive loop alive.
func (c *Consumer) Healthy() error {
	if s := c.State(); s != Running {
		return fmt.Errorf("consumer is %s", s)
	}

	for _, l := range c.Listeners() {
		if err := l.Err(); err != nil {
			return err
		}
	}

	return nil
}

package listener

import (
	"log/slog"

	"github.com/next-trace/scg-consumer/contract/mq"
	"github.com/next-trace/scg-consumer/metrics"
)

// Per-topic config keys the listener consumes itself. Other keys go to the transport untouched.
const (
	ConfigWorkers       = "workers"
	ConfigQueueCapacity = "queue_capacity"
	ConfigManualAck     = "manual_ack"
)

// Defaults applied when neither options nor per-topic config size the pool.
const (
	DefaultWorkers       = 4
	DefaultQueueCapacity = 64
)

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the listener's logger.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Listener) {
		if l != nil {
			ln.logger = l
		}
	}
}

// WithMetrics records listener activity on c.
func WithMetrics(c *metrics.Collectors) Option {
	return func(ln *Listener) { ln.metrics = c }
}

// WithPoolSize sets the worker count unless the topic config overrides it.
func WithPoolSize(n int) Option {
	return func(ln *Listener) {
		if n > 0 {
			ln.workers = n
		}
	}
}

// WithQueueCapacity sets the job queue bound unless the topic config overrides it.
func WithQueueCapacity(n int) Option {
	return func(ln *Listener) {
		if n > 0 {
			ln.capacity = n
		}
	}
}

// WithMiddleware wraps every responder invocation, first middleware outermost.
func WithMiddleware(mws ...mq.Middleware) Option {
	return func(ln *Listener) { ln.middleware = append(ln.middleware, mws...) }
}

package consumer

import (
	"log/slog"
	"os"
	"time"

	"github.com/next-trace/scg-consumer/contract/mq"
	"github.com/next-trace/scg-consumer/metrics"
)

// DefaultShutdownTimeout bounds how long Run waits for listeners to drain.
const DefaultShutdownTimeout = 30 * time.Second

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger shared with listeners and pools.
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records listener and job metrics on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithWorkers sets the default worker count of every listener's pool.
func WithWorkers(n int) Option {
	return func(c *Consumer) { c.workers = n }
}

// WithQueueCapacity sets the default job queue bound of every listener's pool.
func WithQueueCapacity(n int) Option {
	return func(c *Consumer) { c.capacity = n }
}

// WithShutdownTimeout bounds the listener drain during shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}

// WithSignals replaces the termination signals that trigger shutdown.
func WithSignals(sig ...os.Signal) Option {
	return func(c *Consumer) { c.signals = sig }
}

// WithConfigSource merges per-topic config from src into drawn routes.
func WithConfigSource(src mq.ConfigSource) Option {
	return func(c *Consumer) { c.source = src }
}

// WithMiddleware wraps every responder invocation on every listener.
func WithMiddleware(mws ...mq.Middleware) Option {
	return func(c *Consumer) { c.middleware = append(c.middleware, mws...) }
}

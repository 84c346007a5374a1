/*
Package metrics exposes Prometheus collectors for listeners and their jobs, and a small
chi router serving them. All Collectors methods are safe on a nil receiver.
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scg_consumer"

// Collectors groups the consumer's metrics.
type Collectors struct {
	received        *prometheus.CounterVec
	jobs            *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	transportErrors *prometheus.CounterVec
	listeners       prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		received: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "messages_received_total", Help: "messages received from the transport"},
			[]string{"topic", "channel"},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "jobs_total", Help: "handler jobs by result"},
			[]string{"topic", "handler", "result"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "handler execution time.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"topic", "handler"},
		),
		transportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "transport_errors_total", Help: "receive loops ended by transport failures"},
			[]string{"topic", "channel"},
		),
		listeners: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "listeners_running", Help: "listeners currently started"},
		),
	}

	if reg != nil {
		reg.MustRegister(c.received, c.jobs, c.jobDuration, c.transportErrors, c.listeners)
	}

	return c
}

// MessageReceived counts one message taken off a subscription.
func (c *Collectors) MessageReceived(topic, channel string) {
	if c == nil {
		return
	}

	c.received.WithLabelValues(topic, channel).Inc()
}

// JobDone records one handler execution.
func (c *Collectors) JobDone(topic, handler string, d time.Duration, err error) {
	if c == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	c.jobs.WithLabelValues(topic, handler, result).Inc()
	c.jobDuration.WithLabelValues(topic, handler).Observe(d.Seconds())
}

// TransportError counts a receive loop that ended on a transport failure.
func (c *Collectors) TransportError(topic, channel string) {
	if c == nil {
		return
	}

	c.transportErrors.WithLabelValues(topic, channel).Inc()
}

// ListenerStarted increments the running listener gauge.
func (c *Collectors) ListenerStarted() {
	if c == nil {
		return
	}

	c.listeners.Inc()
}

// ListenerStopped decrements the running listener gauge.
func (c *Collectors) ListenerStopped() {
	if c == nil {
		return
	}

	c.listeners.Dec()
}

package mq

import "context"

// Transport abstracts the broker client a listener subscribes through.
// Library users pick an adapter (in-memory, NATS, RabbitMQ, Kafka) or provide their own.
type Transport interface {
	// Subscribe opens a subscription for topic on channel. cfg is the binding's
	// per-topic config, passed through unmodified (e.g. max_in_flight).
	Subscribe(ctx context.Context, topic, channel string, cfg map[string]any) (Subscription, error)
}

// Subscription is one live subscription handle.
type Subscription interface {
	// Receive blocks until a message arrives. It returns errors.ErrSubscriptionClosed after
	// Terminate, a wrapped errors.ErrTransportDisconnected when the broker is lost, or ctx.Err().
	Receive(ctx context.Context) (Message, error)
	// Terminate stops delivery and releases the subscription's broker resources.
	Terminate() error
}

// Publisher publishes raw payloads to a topic. Adapters implement it next to Transport.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte, headers map[string]string) error
}

// Adapter is a convenience interface that combines consuming and publishing capabilities.
type Adapter interface {
	Transport
	Publisher
}

package mq

// Message is an opaque transport message handle delivered to responders.
// Ack and Nack settle the message with the broker; adapters make repeated calls a no-op.
type Message interface {
	ID() string
	Topic() string
	Body() []byte
	Headers() map[string]string
	Ack() error
	Nack() error
}

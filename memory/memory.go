// Package memory wires a Consumer to an in-process broker, for tests and local runs.
package memory

import (
	"github.com/next-trace/scg-consumer/adapters/inmemory"
	"github.com/next-trace/scg-consumer/consumer"
	"github.com/next-trace/scg-consumer/registry"
)

// New constructs a consumer over a fresh in-memory broker. The broker doubles as the
// publisher; the cleanup disconnects it, which ends every receive loop.
func New(reg *registry.Registry, opts ...consumer.Option) (*consumer.Consumer, *inmemory.Broker, func()) {
	b := inmemory.New()
	c := consumer.New(b, reg, opts...)

	return c, b, b.Disconnect
}

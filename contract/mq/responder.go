package mq

import "context"

// Responder handles one message. A returned error (or a panic) is reported as a
// handler execution failure and never stops the worker that ran it.
type Responder interface {
	Respond(ctx context.Context, msg Message) error
}

// ResponderFunc adapts an ordinary function to the Responder interface.
type ResponderFunc func(ctx context.Context, msg Message) error

// Respond calls f(ctx, msg).
func (f ResponderFunc) Respond(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Factory constructs a Responder. Registries store factories; listeners call one per job.
type Factory func() Responder

// Middleware wraps a Responder, e.g. to log, trace or time every job.
type Middleware func(next Responder) Responder

// Chain wraps r so the first middleware runs first.
func Chain(r Responder, mws ...Middleware) Responder {
	for i := len(mws) - 1; i >= 0; i-- {
		r = mws[i](r)
	}

	return r
}

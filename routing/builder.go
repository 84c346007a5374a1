package routing

import (
	"errors"
	"fmt"
	"maps"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
)

// TopicOption configures one topic declaration.
type TopicOption func(*declaration)

type declaration struct {
	to      string
	channel string
	options map[string]any
}

// To names the handler identifier that receives the topic's messages. Required.
func To(handlerID string) TopicOption {
	return func(d *declaration) { d.to = handlerID }
}

// Channel sets the transport channel (consumer group). Defaults to DefaultChannel.
func Channel(name string) TopicOption {
	return func(d *declaration) { d.channel = name }
}

// Set adds one free-form per-topic option, e.g. Set("max_in_flight", 10).
func Set(key string, value any) TopicOption {
	return func(d *declaration) { d.options[key] = value }
}

// Options merges free-form per-topic options.
func Options(opts map[string]any) TopicOption {
	return func(d *declaration) { maps.Copy(d.options, opts) }
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithConfigSource merges externally loaded per-topic config into every binding.
// Options given in the declaration take precedence over the source.
func WithConfigSource(src mq.ConfigSource) BuilderOption {
	return func(b *Builder) { b.source = src }
}

// Declaration is a route declared outside code, e.g. in a config file.
type Declaration struct {
	Topic   string
	To      string
	Channel string
	Options map[string]any
}

// Builder accumulates topic bindings. It is not safe for concurrent use.
type Builder struct {
	routes map[string][]Binding
	order  []string
	source mq.ConfigSource
	errs   []error
}

// NewBuilder returns an empty Builder. Most callers use Draw instead.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{routes: make(map[string][]Binding)}
	for _, o := range opts {
		o(b)
	}

	return b
}

// Draw runs fn against a fresh Builder and returns the resulting Table.
func Draw(fn func(r *Builder), opts ...BuilderOption) (*Table, error) {
	b := NewBuilder(opts...)
	if fn != nil {
		fn(b)
	}

	return b.Build()
}

// Topic appends a binding for name. Repeated calls with the same name add further
// handlers for that topic rather than replacing earlier ones.
func (b *Builder) Topic(name string, opts ...TopicOption) {
	d := declaration{options: map[string]any{}}
	for _, o := range opts {
		o(&d)
	}

	b.add(name, d)
}

// Route appends a binding from a Declaration, with the same validation as Topic.
func (b *Builder) Route(decl Declaration) {
	d := declaration{to: decl.To, channel: decl.Channel, options: maps.Clone(decl.Options)}
	if d.options == nil {
		d.options = map[string]any{}
	}

	b.add(decl.Topic, d)
}

func (b *Builder) add(name string, d declaration) {
	if name == "" {
		b.errs = append(b.errs, fmt.Errorf("topic declaration: empty name: %w", merr.ErrInvalidTopic))
		return
	}

	if d.to == "" {
		b.errs = append(b.errs, fmt.Errorf("topic %q: no handler bound (missing To): %w", name, merr.ErrMissingHandlerBinding))
		return
	}

	cfg := map[string]any{}
	if b.source != nil {
		maps.Copy(cfg, b.source.FindByTopic(name))
	}

	maps.Copy(cfg, d.options)

	channel := d.channel
	if channel == "" {
		if c, ok := cfg["channel"].(string); ok && c != "" {
			channel = c
		} else {
			channel = DefaultChannel
		}
	}

	delete(cfg, "channel")

	if _, seen := b.routes[name]; !seen {
		b.order = append(b.order, name)
	}

	b.routes[name] = append(b.routes[name], Binding{
		Topic:     name,
		Channel:   channel,
		HandlerID: d.to,
		Config:    cfg,
	})
}

// Err returns the accumulated declaration errors, if any.
func (b *Builder) Err() error { return errors.Join(b.errs...) }

// Build freezes the declarations into a Table. Any declaration error fails the whole build.
func (b *Builder) Build() (*Table, error) {
	if err := b.Err(); err != nil {
		return nil, fmt.Errorf("build route table: %w", err)
	}

	routes := make(map[string][]Binding, len(b.routes))
	for name, bindings := range b.routes {
		cp := make([]Binding, len(bindings))
		for i, bd := range bindings {
			cp[i] = bd.clone()
		}

		routes[name] = cp
	}

	return &Table{routes: routes, order: append([]string(nil), b.order...)}, nil
}

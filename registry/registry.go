/*
Package registry resolves symbolic handler identifiers (":welcome", "hello_world") to responder
factories registered by application code at startup.
*/
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
)

// Suffix is appended to every transformed identifier; registered names must end with it.
const Suffix = "Responder"

// Resolved is a handler identifier bound to its registered factory.
type Resolved struct {
	ID       string
	TypeName string
	Factory  mq.Factory
}

// New returns an instance of the handler.
func (r Resolved) New() mq.Responder { return r.Factory() }

// Registry is an explicit registration table from handler type name to factory.
// It is safe for concurrent use; in practice it is populated once before routes are drawn.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]mq.Factory
	logger    *slog.Logger
}

// New constructs an empty Registry. A nil logger discards diagnostics.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Registry{
		factories: make(map[string]mq.Factory),
		logger:    logger,
	}
}

// Register binds a factory under the type name derived from name.
// "welcome", ":welcome" and "WelcomeResponder" all register WelcomeResponder.
func (r *Registry) Register(name string, f mq.Factory) error {
	typeName, err := TypeName(name)
	if err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}

	if f == nil {
		return fmt.Errorf("register %s: nil factory: %w", typeName, merr.ErrInvalidHandlerName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeName]; exists {
		return fmt.Errorf("register %s: %w", typeName, merr.ErrHandlerExists)
	}

	r.factories[typeName] = f

	return nil
}

// MustRegister is Register for setup code; it panics on error.
func (r *Registry) MustRegister(name string, f mq.Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// RegisterResponder registers a shared responder instance. The responder must be safe for
// concurrent use since every job for the binding receives the same value.
func (r *Registry) RegisterResponder(name string, h mq.Responder) error {
	if h == nil {
		return r.Register(name, nil)
	}

	return r.Register(name, func() mq.Responder { return h })
}

// Resolve maps a handler identifier to its registered factory.
func (r *Registry) Resolve(id string) (Resolved, error) {
	typeName, err := TypeName(id)
	if err != nil {
		r.logger.Warn("handler name rejected", "handler", id, "err", err)
		return Resolved{}, fmt.Errorf("resolve %q: %w", id, err)
	}

	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("handler not registered", "handler", id, "type", typeName)
		return Resolved{}, fmt.Errorf("resolve %q as %s: %w", id, typeName, merr.ErrHandlerNotFound)
	}

	return Resolved{ID: id, TypeName: typeName, Factory: f}, nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// TypeName applies the naming transform: segments split on _ - . : and spaces are
// capitalised, concatenated and suffixed with Responder unless already present.
//
//	TypeName("hello_world") == "HelloWorldResponder"
//	TypeName(":welcome")    == "WelcomeResponder"
func TypeName(id string) (string, error) {
	segments := strings.FieldsFunc(strings.TrimLeft(id, ":"), isSeparator)

	var b strings.Builder
	for _, seg := range segments {
		first, size := utf8.DecodeRuneInString(seg)
		b.WriteRune(unicode.ToUpper(first))
		b.WriteString(seg[size:])
	}

	name := b.String()
	if !strings.HasSuffix(name, Suffix) {
		name += Suffix
	}

	if !validTypeName(name) {
		return "", fmt.Errorf("%q does not form a valid *%s name: %w", id, Suffix, merr.ErrInvalidHandlerName)
	}

	return name, nil
}

func isSeparator(r rune) bool {
	switch r {
	case '_', '-', '.', ':', ' ', '\t':
		return true
	default:
		return false
	}
}

// validTypeName reports whether name is [A-Z][A-Za-z0-9]* followed by Suffix.
func validTypeName(name string) bool {
	prefix, ok := strings.CutSuffix(name, Suffix)
	if !ok || prefix == "" {
		return false
	}

	for i, r := range prefix {
		switch {
		case i == 0 && !(r >= 'A' && r <= 'Z'):
			return false
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return true
}

package routing

import (
	"maps"
	"reflect"
	"slices"
)

// DefaultChannel is used when a topic declaration names no channel.
const DefaultChannel = "default"

// Binding associates a topic and channel with one handler identifier and its config.
type Binding struct {
	Topic     string
	Channel   string
	HandlerID string
	Config    map[string]any
}

func (b Binding) clone() Binding {
	b.Config = maps.Clone(b.Config)
	if b.Config == nil {
		b.Config = map[string]any{}
	}

	return b
}

// Group is the set of bindings sharing one (topic, channel) subscription.
type Group struct {
	Topic    string
	Channel  string
	Bindings []Binding
}

// Config returns the merged config of the group's bindings; earlier bindings win on conflicts.
func (g Group) Config() map[string]any {
	out := map[string]any{}
	for i := len(g.Bindings) - 1; i >= 0; i-- {
		maps.Copy(out, g.Bindings[i].Config)
	}

	return out
}

// Conflicts lists, sorted, the config keys that two of the group's bindings set to
// different values. Config resolves each of them to the earliest binding's value.
func (g Group) Conflicts() []string {
	first := map[string]any{}
	seen := map[string]bool{}

	var out []string

	for _, b := range g.Bindings {
		for k, v := range b.Config {
			prev, ok := first[k]
			if !ok {
				first[k] = v
				continue
			}

			if !seen[k] && !reflect.DeepEqual(prev, v) {
				seen[k] = true
				out = append(out, k)
			}
		}
	}

	slices.Sort(out)

	return out
}

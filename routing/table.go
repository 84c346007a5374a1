package routing

import "sort"

// Table is the immutable result of drawing routes. Accessors return copies.
type Table struct {
	routes map[string][]Binding
	order  []string
}

// Bindings returns the bindings declared for topic, in declaration order.
func (t *Table) Bindings(topic string) []Binding {
	src := t.routes[topic]
	if len(src) == 0 {
		return nil
	}

	out := make([]Binding, len(src))
	for i, b := range src {
		out[i] = b.clone()
	}

	return out
}

// Topics returns the declared topic names in sorted order.
func (t *Table) Topics() []string {
	out := make([]string, 0, len(t.routes))
	for name := range t.routes {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Len returns the number of distinct topics.
func (t *Table) Len() int { return len(t.routes) }

// All returns every binding, topics in declaration order.
func (t *Table) All() []Binding {
	var out []Binding
	for _, name := range t.order {
		out = append(out, t.Bindings(name)...)
	}

	return out
}

// Groups returns the bindings grouped by (topic, channel), in declaration order.
// Each group maps to one subscription so that every bound handler sees every message.
func (t *Table) Groups() []Group {
	var out []Group

	index := map[[2]string]int{}

	for _, b := range t.All() {
		key := [2]string{b.Topic, b.Channel}

		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, Group{Topic: b.Topic, Channel: b.Channel})
		}

		out[i].Bindings = append(out[i].Bindings, b)
	}

	return out
}

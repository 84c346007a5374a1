package mq

// ConfigSource supplies per-topic configuration loaded from outside the routing block.
type ConfigSource interface {
	// FindByTopic returns the config mapping for name, or an empty mapping if absent.
	FindByTopic(name string) map[string]any
}

// Int reads an integer option from a per-topic config. It accepts the integer shapes
// YAML, TOML and code declarations produce.
func Int(cfg map[string]any, key string) (int, bool) {
	switch n := cfg[key].(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}

	return 0, false
}

// IntOr is Int with a fallback for missing or non-positive values.
func IntOr(cfg map[string]any, key string, def int) int {
	if n, ok := Int(cfg, key); ok && n > 0 {
		return n
	}

	return def
}

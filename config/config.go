/*
Package config loads the consumer's configuration file. YAML files are decoded strictly
(unknown keys are rejected); TOML files are decoded with go-toml. The loaded Config doubles
as the per-topic config source consulted while routes are drawn.
*/
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	merr "github.com/next-trace/scg-consumer/contract/errors"
	"github.com/next-trace/scg-consumer/contract/mq"
	"github.com/next-trace/scg-consumer/routing"
)

// Transport kinds understood by the CLI.
const (
	KindMemory   = "memory"
	KindNATS     = "nats"
	KindRabbitMQ = "rabbitmq"
	KindKafka    = "kafka"
	KindNSQ      = "nsq"
)

// Transport selects and addresses the message transport. For nsq, URL is the nsqd TCP
// address and Brokers, when set, lists nsqlookupd HTTP addresses.
type Transport struct {
	Kind        string   `yaml:"kind" toml:"kind"`
	URL         string   `yaml:"url" toml:"url"`
	Brokers     []string `yaml:"brokers" toml:"brokers"`
	Name        string   `yaml:"name" toml:"name"`
	ConnTimeout string   `yaml:"conn_timeout" toml:"conn_timeout"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// Metrics configures the metrics listener. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// Route is a route declared in the file rather than in code.
type Route struct {
	Topic   string         `yaml:"topic" toml:"topic"`
	To      string         `yaml:"to" toml:"to"`
	Channel string         `yaml:"channel" toml:"channel"`
	Options map[string]any `yaml:"options" toml:"options"`
}

// Config is the whole configuration file.
type Config struct {
	Transport       Transport                 `yaml:"transport" toml:"transport"`
	Workers         int                       `yaml:"workers" toml:"workers"`
	QueueCapacity   int                       `yaml:"queue_capacity" toml:"queue_capacity"`
	ShutdownTimeout string                    `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	Log             Log                       `yaml:"log" toml:"log"`
	Metrics         Metrics                   `yaml:"metrics" toml:"metrics"`
	Topics          map[string]map[string]any `yaml:"topics" toml:"topics"`
	Routes          []Route                   `yaml:"routes" toml:"routes"`
}

var _ mq.ConfigSource = (*Config)(nil)

// Load reads path, decodes it by extension and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = DecodeStrict(bytes.NewReader(b), &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		err = fmt.Errorf("unsupported config extension %q", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, errors.Join(merr.ErrInvalidConfig, err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	return &cfg, nil
}

// DecodeStrict decodes YAML from r and rejects any unknown fields.
func DecodeStrict(r io.Reader, out any) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// Validate fills defaults and reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Transport.Kind == "" {
		c.Transport.Kind = KindMemory
	}

	switch c.Transport.Kind {
	case KindMemory:
	case KindNATS, KindRabbitMQ, KindNSQ:
		if c.Transport.URL == "" {
			errs = append(errs, fmt.Errorf("transport.url is required for %s", c.Transport.Kind))
		}
	case KindKafka:
		if len(c.Transport.Brokers) == 0 {
			errs = append(errs, errors.New("transport.brokers is required for kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind %q is unknown", c.Transport.Kind))
	}

	if c.Workers < 0 {
		errs = append(errs, errors.New("workers must not be negative"))
	}

	if c.QueueCapacity < 0 {
		errs = append(errs, errors.New("queue_capacity must not be negative"))
	}

	if _, err := parseDuration(c.Transport.ConnTimeout); err != nil {
		errs = append(errs, fmt.Errorf("transport.conn_timeout: %w", err))
	}

	if _, err := parseDuration(c.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("shutdown_timeout: %w", err))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is unknown", c.Log.Level))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is unknown", c.Log.Format))
	}

	for i, r := range c.Routes {
		if strings.TrimSpace(r.Topic) == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: topic is required", i))
		}

		if strings.TrimSpace(r.To) == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: to is required", i))
		}
	}

	if len(errs) > 0 {
		return errors.Join(merr.ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// FindByTopic returns a copy of the per-topic settings for name, or an empty map.
func (c *Config) FindByTopic(name string) map[string]any {
	out := make(map[string]any)
	if c == nil {
		return out
	}

	maps.Copy(out, c.Topics[name])

	return out
}

// DrawRoutes declares every file route on r.
func (c *Config) DrawRoutes(r *routing.Builder) {
	for _, rt := range c.Routes {
		r.Route(routing.Declaration{
			Topic:   rt.Topic,
			To:      rt.To,
			Channel: rt.Channel,
			Options: rt.Options,
		})
	}
}

// ConnTimeoutDuration returns transport.conn_timeout, or def when unset.
func (c *Config) ConnTimeoutDuration(def time.Duration) time.Duration {
	return orDefault(c.Transport.ConnTimeout, def)
}

// ShutdownTimeoutDuration returns shutdown_timeout, or def when unset.
func (c *Config) ShutdownTimeoutDuration(def time.Duration) time.Duration {
	return orDefault(c.ShutdownTimeout, def)
}

func orDefault(s string, def time.Duration) time.Duration {
	d, err := parseDuration(s)
	if err != nil || d <= 0 {
		return def
	}

	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	return time.ParseDuration(s)
}

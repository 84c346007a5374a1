package nsq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gonsq "github.com/nsqio/go-nsq"

	merr "github.com/next-trace/scg-consumer/contract/errors"
)

// Concrete go-nsq backed producer, consumers and constructor.

type Config struct {
	// NSQD is the nsqd TCP address the producer publishes to, e.g. 127.0.0.1:4150.
	NSQD string
	// Lookupd lists nsqlookupd HTTP addresses. Consumers use them when set and
	// connect to NSQD directly otherwise.
	Lookupd     []string
	Name        string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

type nsqConsumer struct {
	c       *gonsq.Consumer
	nsqd    string
	lookupd []string
}

func (c *nsqConsumer) AddHandler(h gonsq.Handler) { c.c.AddHandler(h) }
func (c *nsqConsumer) Stop()                      { c.c.Stop() }
func (c *nsqConsumer) Stopped() <-chan int        { return c.c.StopChan }

func (c *nsqConsumer) Connect() error {
	if len(c.lookupd) > 0 {
		return c.c.ConnectToNSQLookupds(c.lookupd)
	}

	return c.c.ConnectToNSQD(c.nsqd)
}

// NewWithNSQ creates a producer for cfg.NSQD, checks it can reach nsqd and returns an
// Adapter and a cleanup that stops the producer.
func NewWithNSQ(cfg Config) (*Adapter, func(), error) {
	if cfg.NSQD == "" {
		return nil, nil, fmt.Errorf("nsqd address required: %w", merr.ErrInvalidConfig)
	}

	producer, err := gonsq.NewProducer(cfg.NSQD, newNSQConfig(cfg, 0))
	if err != nil {
		return nil, nil, fmt.Errorf("nsq producer: %w", errors.Join(merr.ErrInvalidConfig, err))
	}

	forEachLevel(cfg.Logger, func(o slogOutput, lvl gonsq.LogLevel) { producer.SetLoggerForLevel(o, lvl) })

	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, nil, fmt.Errorf("nsq connect %s: %w", cfg.NSQD, errors.Join(merr.ErrTransportDisconnected, err))
	}

	newConsumer := func(topic, channel string, maxInFlight int) (Consumer, error) {
		c, err := gonsq.NewConsumer(topic, channel, newNSQConfig(cfg, maxInFlight))
		if err != nil {
			return nil, err
		}

		forEachLevel(cfg.Logger, func(o slogOutput, lvl gonsq.LogLevel) { c.SetLoggerForLevel(o, lvl) })

		return &nsqConsumer{c: c, nsqd: cfg.NSQD, lookupd: cfg.Lookupd}, nil
	}

	return New(producer, newConsumer), producer.Stop, nil
}

func newNSQConfig(cfg Config, maxInFlight int) *gonsq.Config {
	c := gonsq.NewConfig()
	if cfg.DialTimeout > 0 {
		c.DialTimeout = cfg.DialTimeout
	}

	if cfg.Name != "" {
		c.ClientID = cfg.Name
	}

	if maxInFlight > 0 {
		c.MaxInFlight = maxInFlight
	}

	return c
}

var nsqLevels = map[gonsq.LogLevel]slog.Level{
	gonsq.LogLevelDebug:   slog.LevelDebug,
	gonsq.LogLevelInfo:    slog.LevelInfo,
	gonsq.LogLevelWarning: slog.LevelWarn,
	gonsq.LogLevelError:   slog.LevelError,
}

// slogOutput routes go-nsq's log lines to slog at a fixed level.
type slogOutput struct {
	l     *slog.Logger
	level slog.Level
}

func (o slogOutput) Output(_ int, s string) error {
	o.l.Log(context.Background(), o.level, strings.TrimSpace(s), "component", "nsq")
	return nil
}

// forEachLevel hands set a slog-backed logger for every go-nsq level. A nil l discards.
func forEachLevel(l *slog.Logger, set func(o slogOutput, lvl gonsq.LogLevel)) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}

	for lvl, sl := range nsqLevels {
		set(slogOutput{l: l, level: sl}, lvl)
	}
}

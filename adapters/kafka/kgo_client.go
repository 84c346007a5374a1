package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	merr "github.com/next-trace/scg-consumer/contract/errors"
)

// Concrete franz-go based constructor and client wrappers.

type Config struct {
	Brokers  []string
	TLS      *tls.Config
	ClientID string
	// Acks is "all" (default), "leader" or "none". Anything but "all" disables idempotent writes.
	Acks string
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, rec *kgo.Record) error {
	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

type kgoReader struct{ cl *kgo.Client }

func (r kgoReader) Poll(ctx context.Context, max int) ([]*kgo.Record, error) {
	return pollResult(ctx, r.cl.PollRecords(ctx, max))
}

// pollResult returns the fetched records, or the first error the client will not
// recover from by itself. Retriable broker errors and data-loss notices are dropped.
func pollResult(ctx context.Context, fetches kgo.Fetches) ([]*kgo.Record, error) {
	if fetches.IsClientClosed() {
		return nil, kgo.ErrClientClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, fe := range fetches.Errors() {
		if !fatalFetchErr(fe.Err) {
			continue
		}

		return nil, fmt.Errorf("%s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
	}

	return fetches.Records(), nil
}

func fatalFetchErr(err error) bool {
	var dataLoss *kgo.ErrDataLoss

	switch {
	case err == nil, kerr.IsRetriable(err), errors.As(err, &dataLoss):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

func (r kgoReader) Commit(ctx context.Context, recs ...*kgo.Record) error {
	return r.cl.CommitRecords(ctx, recs...)
}

func (r kgoReader) Close() { r.cl.Close() }

func baseOpts(cfg Config) []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	return opts
}

func producerOpts(cfg Config) ([]kgo.Opt, error) {
	opts := baseOpts(cfg)

	switch strings.ToLower(cfg.Acks) {
	case "", "all":
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	case "leader":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	case "none":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	default:
		return nil, fmt.Errorf("kafka acks %q is unknown: %w", cfg.Acks, merr.ErrInvalidConfig)
	}

	return opts, nil
}

// NewWithKgo builds a franz-go client based Adapter. The producer client is created
// eagerly; each subscription gets its own group client. The returned cleanup closes all of them.
func NewWithKgo(cfg Config) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("kafka brokers required: %w", merr.ErrInvalidConfig)
	}

	opts, err := producerOpts(cfg)
	if err != nil {
		return nil, nil, err
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka client init: %w", errors.Join(merr.ErrTransportDisconnected, err))
	}

	newReader := func(topic, group string) (Reader, error) {
		rc, err := kgo.NewClient(append(baseOpts(cfg),
			kgo.ConsumerGroup(group),
			kgo.ConsumeTopics(topic),
			kgo.DisableAutoCommit(),
		)...)
		if err != nil {
			return nil, err
		}

		return kgoReader{cl: rc}, nil
	}

	ad := New(kgoWriter{cl: cl}, newReader)
	cleanup := func() {
		ad.Close()
		cl.Close()
	}

	return ad, cleanup, nil
}

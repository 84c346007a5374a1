package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/next-trace/scg-consumer/contract/mq"
	"github.com/next-trace/scg-consumer/registry"
)

// printResponder logs every message it receives.
type printResponder struct {
	name   string
	logger *slog.Logger
}

func (p printResponder) Respond(ctx context.Context, msg mq.Message) error {
	p.logger.InfoContext(ctx, string(msg.Body()),
		"handler", p.name,
		"topic", msg.Topic(),
		"message_id", msg.ID(),
	)

	return nil
}

// registerResponders adds the responders shipped with the binary.
func registerResponders(reg *registry.Registry, logger *slog.Logger) error {
	for _, name := range []string{"welcome", "hello_world"} {
		if err := reg.RegisterResponder(name, printResponder{name: name, logger: logger}); err != nil {
			return err
		}
	}

	return nil
}

// logJobs logs every handled message at debug level with its duration.
func logJobs(logger *slog.Logger) mq.Middleware {
	return func(next mq.Responder) mq.Responder {
		return mq.ResponderFunc(func(ctx context.Context, msg mq.Message) error {
			start := time.Now()
			err := next.Respond(ctx, msg)

			logger.DebugContext(ctx, "message handled",
				"topic", msg.Topic(),
				"message_id", msg.ID(),
				"duration", time.Since(start),
				"err", err,
			)

			return err
		})
	}
}

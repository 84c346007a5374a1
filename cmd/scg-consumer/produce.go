package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/next-trace/scg-consumer/config"
	"github.com/next-trace/scg-consumer/contract/mq"
	"github.com/next-trace/scg-consumer/logging"
)

func newProduceCommand() *cobra.Command {
	var (
		topic   string
		message string
		count   int
	)

	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Publish numbered test messages to a topic",
		Long: `Publish "<message> => i" for i in 1..count to a topic over the configured
transport. Useful to watch a running consumer pick messages up.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger, closeLog, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer closeLog()

			pub, cleanup, err := openTransport(cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			return produce(cmd.Context(), pub, logger, topic, message, count)
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "hello", "Topic to publish to")
	cmd.Flags().StringVar(&message, "message", "hello", "Message prefix")
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of messages")

	return cmd
}

func produce(ctx context.Context, pub mq.Publisher, logger *slog.Logger, topic, message string, count int) error {
	for i := 1; i <= count; i++ {
		body := fmt.Sprintf("%s => %d", message, i)

		logger.Info("sending message", "topic", topic, "n", i)

		if err := pub.Publish(ctx, topic, []byte(body), nil); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}

	logger.Info("done", "topic", topic, "sent", count)

	return nil
}

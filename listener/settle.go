package listener

import (
	"log/slog"
	"sync/atomic"

	"github.com/next-trace/scg-consumer/contract/mq"
)

// settlement acks a message once every handler job for it has finished,
// or nacks it if any of them failed.
type settlement struct {
	msg       mq.Message
	remaining atomic.Int32
	failed    atomic.Bool
	logger    *slog.Logger
}

func newSettlement(msg mq.Message, jobs int, logger *slog.Logger) *settlement {
	s := &settlement{msg: msg, logger: logger}
	s.remaining.Store(int32(jobs))

	return s
}

func (s *settlement) done(err error) {
	if err != nil {
		s.failed.Store(true)
	}

	if s.remaining.Add(-1) != 0 {
		return
	}

	if s.failed.Load() {
		if nerr := s.msg.Nack(); nerr != nil {
			s.logger.Warn("nack failed", "message_id", s.msg.ID(), "err", nerr)
		}

		return
	}

	if aerr := s.msg.Ack(); aerr != nil {
		s.logger.Warn("ack failed", "message_id", s.msg.ID(), "err", aerr)
	}
}

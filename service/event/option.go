package event

import (
	"log/slog"

	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/service/messaging/memory"
)

type Option func(s *Service)

// WithQueueConfig sets the configuration of the backing memory queue.
func WithQueueConfig(config memory.Config) Option {
	return func(s *Service) {
		s.queueConfig = config
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(now clock.Func) Option {
	return func(s *Service) {
		s.now = now
	}
}

package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/viant/hitl/model"
)

// Sweeper expires PENDING checkpoints whose deadline passed while no live
// session owned them, e.g. checkpoints left behind by a restarted process.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	owned    func(id string) bool

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// NewSweeper creates a sweeper. owned reports checkpoints whose expiry is
// handled elsewhere (a session timer); it may be nil.
func NewSweeper(engine *Engine, interval time.Duration, owned func(id string) bool) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if owned == nil {
		owned = func(string) bool { return false }
	}
	return &Sweeper{engine: engine, interval: interval, owned: owned}
}

// Sweep expires overdue checkpoints once and returns how many it expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pending, err := s.engine.GetPending(ctx, Filter{})
	if err != nil {
		return 0, err
	}
	now := s.engine.Now()
	expired := 0
	for _, cp := range pending {
		if !cp.IsExpired(now) || s.owned(cp.ID) {
			continue
		}
		if _, err := s.engine.Expire(ctx, cp.ID); err != nil {
			if errors.Is(err, model.ErrAlreadyResolved) {
				continue
			}
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.engine.logger.Info("swept expired checkpoints", "count", expired)
	}
	return expired, nil
}

// Start runs Sweep every interval until Stop or ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	ctx, s.stop = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
					s.engine.logger.Warn("sweep failed", "error", err)
				}
			}
		}
	}(s.done)
}

// Stop ends the sweep loop.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
	s.stop = nil
}

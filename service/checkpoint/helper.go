package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/viant/hitl/model"
)

// DecisionFunc decides what to do with a pending checkpoint. Returning nil
// leaves the checkpoint for someone else.
type DecisionFunc func(cp *model.Checkpoint) *Decision

// AutoDecider starts a goroutine that polls GetPending and applies fn to
// every pending checkpoint matching filter. Call stop, or cancel ctx, to
// exit; stop may be called more than once.
func AutoDecider(ctx context.Context, engine *Engine, filter Filter, fn DecisionFunc, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				pending, err := engine.GetPending(ctx, filter)
				if err != nil {
					engine.logger.Warn("auto decider failed to list pending checkpoints", "error", err)
					continue
				}
				for _, cp := range pending {
					decision := fn(cp)
					if decision == nil {
						continue
					}
					if _, err := engine.Resolve(ctx, cp.ID, decision); err != nil && !errors.Is(err, model.ErrAlreadyResolved) {
						engine.logger.Warn("auto decider failed to resolve checkpoint", "checkpoint", cp.ID, "status", decision.Status, "error", err)
					}
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// AutoApprove approves every pending checkpoint matching filter as actor.
func AutoApprove(ctx context.Context, engine *Engine, filter Filter, actor string, interval time.Duration) func() {
	return AutoDecider(ctx, engine, filter, func(*model.Checkpoint) *Decision {
		return &Decision{Status: model.StatusApproved, Actor: actor, Resolution: "auto approved"}
	}, interval)
}

// AutoReject rejects every pending checkpoint matching filter with reason.
func AutoReject(ctx context.Context, engine *Engine, filter Filter, actor, reason string, interval time.Duration) func() {
	return AutoDecider(ctx, engine, filter, func(*model.Checkpoint) *Decision {
		return &Decision{Status: model.StatusRejected, Actor: actor, Resolution: reason}
	}, interval)
}

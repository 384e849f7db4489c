package event

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/paylink/internal/event/service"
	"github.com/smallbiznis/paylink/internal/ratelimit"
)

const (
	pollInterval    = 5 * time.Second
	dispatchLockKey = "outbox:dispatch:lock"
	dispatchLockTTL = 30 * time.Second
)

var Module = fx.Module("event.outbox",
	fx.Provide(service.NewOutboxPublisher),
	fx.Provide(service.NewDispatcher),
	fx.Invoke(runDispatcher),
)

type dispatcherParams struct {
	fx.In

	LC         fx.Lifecycle
	Dispatcher *service.Dispatcher
	Locker     *ratelimit.Locker `optional:"true"`
	Log        *zap.Logger
}

func runDispatcher(p dispatcherParams) {
	stop := make(chan struct{})

	lc, dispatcher, log := p.LC, p.Dispatcher, p.Log

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ticker := time.NewTicker(pollInterval)
				defer ticker.Stop()

				for {
					dispatchOnce(p.Locker, dispatcher, log)
					select {
					case <-stop:
						return
					case <-ticker.C:
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(stop)
			return nil
		},
	})
}

// dispatchOnce drains one batch. When a locker is configured only one
// replica drains at a time; delivery stays at-least-once either way.
func dispatchOnce(locker *ratelimit.Locker, dispatcher *service.Dispatcher, log *zap.Logger) {
	ctx := context.Background()

	if locker != nil {
		token, ok, err := locker.TryLock(ctx, dispatchLockKey, dispatchLockTTL)
		if err != nil {
			log.Warn("outbox lock unavailable, draining without it", zap.Error(err))
		} else if !ok {
			return
		} else {
			defer func() {
				if err := locker.Release(ctx, dispatchLockKey, token); err != nil {
					log.Warn("outbox lock release failed", zap.Error(err))
				}
			}()
		}
	}

	if err := dispatcher.ProcessPending(ctx); err != nil {
		log.Error("outbox poll failed", zap.Error(err))
	}
}

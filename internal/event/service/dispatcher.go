package service

import (
	"context"
	"time"

	"github.com/smallbiznis/paylink/internal/event/domain"
	"github.com/smallbiznis/paylink/internal/event/repository"
	obsmetrics "github.com/smallbiznis/paylink/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dispatcherWorker = "outbound_events"
	batchSize        = 50
)

// Sink delivers a published event to its destination.
type Sink interface {
	Deliver(ctx context.Context, event domain.OutboundEvent) error
}

// Dispatcher drains the outbox and hands events to the sink. Delivery is
// at-least-once: an event is marked published only after the sink accepts it.
type Dispatcher struct {
	db      *gorm.DB
	repo    repository.Repository
	sink    Sink
	log     *zap.Logger
	metrics *obsmetrics.DispatcherMetrics
}

func NewDispatcher(db *gorm.DB, sink Sink, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:      db,
		repo:    repository.New(db),
		sink:    sink,
		log:     log.Named("event.dispatcher"),
		metrics: obsmetrics.Dispatcher(),
	}
}

// ProcessPending publishes one batch of staged events.
func (d *Dispatcher) ProcessPending(ctx context.Context) error {
	start := time.Now()
	d.metrics.IncRun(dispatcherWorker)
	defer func() {
		d.metrics.ObserveRunDuration(dispatcherWorker, time.Since(start))
	}()

	events, err := d.repo.ListPending(ctx, batchSize)
	if err != nil {
		d.metrics.IncError(dispatcherWorker, obsmetrics.ClassifyDispatcherReason(err))
		return err
	}

	for _, event := range events {
		if err := d.publish(ctx, event); err != nil {
			d.metrics.IncError(dispatcherWorker, obsmetrics.DispatcherReasonDelivery)
			d.log.Error("failed to publish outbound event",
				zap.Error(err),
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", event.EventType),
			)
			continue
		}
		d.metrics.AddPublished(event.EventType, 1)
	}

	return nil
}

func (d *Dispatcher) publish(ctx context.Context, event domain.OutboundEvent) error {
	if err := d.sink.Deliver(ctx, event); err != nil {
		return err
	}
	return d.repo.MarkPublished(ctx, event.ID, time.Now().UTC())
}

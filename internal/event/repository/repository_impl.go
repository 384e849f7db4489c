package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/internal/event/domain"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event domain.OutboundEvent) error
	ListPending(ctx context.Context, limit int) ([]domain.OutboundEvent, error)
	MarkPublished(ctx context.Context, id snowflake.ID, publishedAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, event domain.OutboundEvent) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO outbound_events (id, org_id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, false, ?)
		 ON CONFLICT (org_id, dedupe_key) DO NOTHING`,
		event.ID,
		event.OrgID,
		event.EventType,
		event.Payload,
		event.DedupeKey,
		event.CreatedAt,
	).Error
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]domain.OutboundEvent, error) {
	var events []domain.OutboundEvent
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM outbound_events
		 WHERE published = false
		 ORDER BY created_at ASC
		 LIMIT ?`,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) MarkPublished(ctx context.Context, id snowflake.ID, publishedAt time.Time) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE outbound_events SET published = true, published_at = ? WHERE id = ?`,
		publishedAt,
		id,
	).Error
}

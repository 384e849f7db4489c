package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/internal/event/domain"
	"github.com/smallbiznis/paylink/internal/event/repository"
	"gorm.io/gorm"
)

type outboxPublisher struct {
	repo  repository.Repository
	genID *snowflake.Node
}

// NewOutboxPublisher stages events in the outbound_events table.
func NewOutboxPublisher(db *gorm.DB, genID *snowflake.Node) domain.Publisher {
	return &outboxPublisher{
		repo:  repository.New(db),
		genID: genID,
	}
}

func (p *outboxPublisher) WithTx(tx *gorm.DB) domain.Publisher {
	return &outboxPublisher{
		repo:  p.repo.WithTx(tx),
		genID: p.genID,
	}
}

func (p *outboxPublisher) Publish(ctx context.Context, orgID snowflake.ID, topic string, payload map[string]any, dedupeKey string) error {
	if payload == nil {
		payload = map[string]any{}
	}

	var dedupe *string
	if key := strings.TrimSpace(dedupeKey); key != "" {
		dedupe = &key
	}

	return p.repo.Insert(ctx, domain.OutboundEvent{
		ID:        p.genID.Generate(),
		OrgID:     orgID,
		EventType: topic,
		Payload:   payload,
		DedupeKey: dedupe,
		CreatedAt: time.Now().UTC(),
	})
}

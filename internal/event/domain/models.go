package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Topics published through the outbox.
const (
	TopicOrganizationCreated = "organization.created"
	TopicInvoiceIssued       = "invoice.issued"
	TopicPaymentConfirmed    = "payment.confirmed"
	TopicPaymentFailed       = "payment.failed"
)

// OutboundEvent captures outbox events for downstream consumers. Events are
// written in the same transaction as the state change they describe and
// published asynchronously by the dispatcher.
type OutboundEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	OrgID       snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_outbound_event_dedupe,priority:1"`
	EventType   string            `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_outbound_event_dedupe,priority:2"`
	Published   bool              `gorm:"not null;default:false"`
	PublishedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OutboundEvent) TableName() string { return "outbound_events" }

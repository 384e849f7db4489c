package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is a provider webhook event captured for idempotent
// reconciliation. (provider, provider_event_id) is unique so redelivered
// events collapse onto the first row.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID           snowflake.ID   `json:"org_id" gorm:"not null;index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	InvoiceID       *snowflake.ID  `json:"invoice_id,omitempty" gorm:"index"`
	LeadID          string         `json:"lead_id,omitempty" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
)

// PaymentEvent is the canonical payment event parsed by adapters. Exactly
// one of InvoiceID and LeadID identifies what was paid: invoice checkouts
// carry an invoice id, quote checkouts carry the lead they quoted.
type PaymentEvent struct {
	Provider            string
	ProviderEventID     string
	ProviderPaymentID   string
	ProviderPaymentType string
	Type                string
	OrgID               snowflake.ID
	InvoiceID           snowflake.ID
	LeadID              string
	ContactID           *snowflake.ID
	ClientReference     string
	Amount              int64
	GratuityAmount      int64
	Currency            string
	FailureReason       string
	OccurredAt          time.Time
	RawPayload          []byte
}

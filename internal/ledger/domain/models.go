package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentRecordStatus classifies a settlement attempt.
type PaymentRecordStatus string

const (
	PaymentRecordStatusSucceeded PaymentRecordStatus = "succeeded"
	PaymentRecordStatusFailed    PaymentRecordStatus = "failed"
)

// PaymentRecord is an immutable row describing one payment attempt against
// an invoice or a quoted lead. Rows are only ever appended; corrections show
// up as new rows.
type PaymentRecord struct {
	ID                snowflake.ID        `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID        `gorm:"not null;index" json:"org_id"`
	InvoiceID         *snowflake.ID       `gorm:"index" json:"invoice_id,omitempty"`
	LeadID            string              `gorm:"type:text" json:"lead_id,omitempty"`
	Provider          string              `gorm:"type:text;not null" json:"provider"`
	ProviderPaymentID string              `gorm:"type:text;not null;index" json:"provider_payment_id"`
	Status            PaymentRecordStatus `gorm:"type:text;not null" json:"status"`
	Amount            int64               `gorm:"not null" json:"amount"`
	GratuityAmount    int64               `gorm:"not null;default:0" json:"gratuity_amount"`
	Currency          string              `gorm:"type:text;not null" json:"currency"`
	FailureReason     string              `gorm:"type:text" json:"failure_reason,omitempty"`
	Metadata          datatypes.JSONMap   `gorm:"type:jsonb" json:"metadata,omitempty"`
	OccurredAt        time.Time           `gorm:"not null" json:"occurred_at"`
	CreatedAt         time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (PaymentRecord) TableName() string { return "payment_records" }

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CheckoutSessionStatus tracks one hosted-checkout attempt.
type CheckoutSessionStatus string

const (
	SessionStatusOpen      CheckoutSessionStatus = "open"
	SessionStatusCompleted CheckoutSessionStatus = "completed"
	SessionStatusExpired   CheckoutSessionStatus = "expired"
	SessionStatusBypassed  CheckoutSessionStatus = "bypassed"
)

// CheckoutSession is one checkout attempt. InvoiceID and LeadID are
// mutually exclusive; bypassed rows never reached the gateway.
type CheckoutSession struct {
	ID                snowflake.ID          `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID          `gorm:"not null;index" json:"org_id"`
	InvoiceID         *snowflake.ID         `gorm:"index" json:"invoice_id,omitempty"`
	LeadID            string                `gorm:"type:text" json:"lead_id,omitempty"`
	Provider          string                `gorm:"type:text;not null" json:"provider"`
	ProviderSessionID string                `gorm:"type:text;index" json:"provider_session_id,omitempty"`
	ClientReference   string                `gorm:"type:text;not null;uniqueIndex:ux_checkout_sessions_reference" json:"client_reference"`
	Amount            int64                 `gorm:"not null" json:"amount"`
	GratuityAmount    int64                 `gorm:"not null;default:0" json:"gratuity_amount"`
	Currency          string                `gorm:"type:text;not null" json:"currency"`
	Status            CheckoutSessionStatus `gorm:"type:text;not null" json:"status"`
	CreatedAt         time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CheckoutSession) TableName() string { return "checkout_sessions" }

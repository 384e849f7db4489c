package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// GatewayCustomer maps a contact to its counterpart customer object at the
// payment provider. One row per (org, contact).
type GatewayCustomer struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID `gorm:"not null;uniqueIndex:ux_gateway_customers_contact,priority:1" json:"organization_id"`
	ContactID          snowflake.ID `gorm:"not null;uniqueIndex:ux_gateway_customers_contact,priority:2" json:"contact_id"`
	Provider           string       `gorm:"not null" json:"provider"`
	ProviderCustomerID string       `gorm:"not null" json:"provider_customer_id"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (GatewayCustomer) TableName() string { return "gateway_customers" }

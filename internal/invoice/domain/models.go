// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states. Overdue is derived at
// read time and never stored.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "DRAFT"
	InvoiceStatusSent    InvoiceStatus = "SENT"
	InvoiceStatusViewed  InvoiceStatus = "VIEWED"
	InvoiceStatusPartial InvoiceStatus = "PARTIAL"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusVoid    InvoiceStatus = "VOID"
)

// DerivedStatusOverdue is the read-time display status for unpaid invoices
// past their due date.
const DerivedStatusOverdue = "OVERDUE"

// Invoice represents an issued invoice. Monetary fields are int64 minor
// units in the organization currency.
type Invoice struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_invoices_org_number,priority:1" json:"organization_id"`
	ContactID     snowflake.ID  `gorm:"not null;index" json:"contact_id"`
	InvoiceNumber *string       `gorm:"type:text;uniqueIndex:ux_invoices_org_number,priority:2" json:"invoice_number,omitempty"`
	NumberYear    int           `gorm:"not null;default:0" json:"-"`
	NumberMonth   int           `gorm:"not null;default:0" json:"-"`
	NumberSeq     int64         `gorm:"not null;default:0" json:"-"`
	Status        InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'" json:"status"`
	Currency      string        `gorm:"type:text;not null" json:"currency"`

	SubtotalAmount int64    `gorm:"not null;default:0" json:"subtotal_amount"`
	TaxRate        *float64 `gorm:"" json:"tax_rate,omitempty"`
	TaxAmount      int64    `gorm:"not null;default:0" json:"tax_amount"`
	DiscountAmount int64    `gorm:"not null;default:0" json:"discount_amount"`
	// GratuityAmount accumulates tips collected at payment time; it is
	// never part of TotalAmount or BalanceDue.
	GratuityAmount int64 `gorm:"not null;default:0" json:"gratuity_amount"`
	TotalAmount    int64 `gorm:"not null;default:0" json:"total_amount"`
	AmountPaid     int64 `gorm:"not null;default:0" json:"amount_paid"`
	BalanceDue     int64 `gorm:"not null;default:0" json:"balance_due"`

	PaymentToken *string           `gorm:"type:text;uniqueIndex:ux_invoices_payment_token" json:"-"`
	DueDate      *time.Time        `gorm:"" json:"due_date,omitempty"`
	Notes        string            `gorm:"type:text" json:"notes,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`

	IssuedAt  *time.Time `gorm:"" json:"issued_at,omitempty"`
	SentAt    *time.Time `gorm:"" json:"sent_at,omitempty"`
	ViewedAt  *time.Time `gorm:"" json:"viewed_at,omitempty"`
	PaidAt    *time.Time `gorm:"" json:"paid_at,omitempty"`
	VoidedAt  *time.Time `gorm:"" json:"voided_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Terminal reports whether the invoice can no longer accept payments.
func (i Invoice) Terminal() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusVoid
}

// Payable reports whether a payment may still settle against the invoice.
func (i Invoice) Payable() bool {
	switch i.Status {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusViewed, InvoiceStatusPartial:
		return true
	}
	return false
}

// IsOverdue reports whether the invoice should display as overdue at the
// given instant. Grace days extend the due date.
func (i Invoice) IsOverdue(now time.Time, graceDays int) bool {
	if i.DueDate == nil || i.BalanceDue <= 0 {
		return false
	}
	switch i.Status {
	case InvoiceStatusSent, InvoiceStatusViewed, InvoiceStatusPartial:
	default:
		return false
	}
	deadline := i.DueDate.AddDate(0, 0, graceDays)
	return now.After(deadline)
}

// DisplayStatus is the status exposed to readers, with the derived overdue
// state applied.
func (i Invoice) DisplayStatus(now time.Time, graceDays int) string {
	if i.IsOverdue(now, graceDays) {
		return DerivedStatusOverdue
	}
	return string(i.Status)
}

// InvoiceItem represents a line on an invoice.
type InvoiceItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"organization_id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Description string       `gorm:"type:text;not null" json:"description"`
	Quantity    int64        `gorm:"not null" json:"quantity"`
	UnitAmount  int64        `gorm:"not null" json:"unit_amount"`
	Amount      int64        `gorm:"not null" json:"amount"`
	Position    int          `gorm:"not null;default:0" json:"position"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidStatus       = errors.New("invalid_status")
)

// AppendRecordInput describes one settlement attempt to record. InvoiceID
// and LeadID are mutually exclusive; at least one must be set.
type AppendRecordInput struct {
	OrgID             snowflake.ID
	InvoiceID         snowflake.ID
	LeadID            string
	Provider          string
	ProviderPaymentID string
	Status            PaymentRecordStatus
	Amount            int64
	GratuityAmount    int64
	Currency          string
	FailureReason     string
	Metadata          map[string]any
	OccurredAt        time.Time
}

// Service appends and reads payment records. Append takes the caller's
// transaction so the record lands atomically with the invoice update.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, in AppendRecordInput) (*PaymentRecord, error)
	ListByInvoice(ctx context.Context, orgID, invoiceID snowflake.ID) ([]PaymentRecord, error)
}

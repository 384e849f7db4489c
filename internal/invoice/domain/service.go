package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/pkg/db/pagination"
)

type InvoiceItemInput struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	// Amount overrides quantity x unit_amount when set.
	Amount *int64 `json:"amount,omitempty"`
}

type CreateInvoiceRequest struct {
	ContactID      string             `json:"contact_id"`
	Items          []InvoiceItemInput `json:"items"`
	TaxRate        *float64           `json:"tax_rate,omitempty"`
	DiscountAmount int64              `json:"discount_amount"`
	DueDate        *time.Time         `json:"due_date,omitempty"`
	Notes          string             `json:"notes,omitempty"`
}

type ListInvoiceRequest struct {
	PageToken   string
	PageSize    int32
	Status      *InvoiceStatus
	ContactID   *snowflake.ID
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	DueFrom     *time.Time
	DueTo       *time.Time
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	ListItems(ctx context.Context, invoiceID snowflake.ID) ([]InvoiceItem, error)
	Send(ctx context.Context, id string) (Invoice, error)
	Void(ctx context.Context, id string, reason string) (Invoice, error)

	// MarkViewed flips a sent invoice to viewed on first public view. It is
	// called from the token-scoped surface and is a no-op on later views.
	MarkViewed(ctx context.Context, orgID, invoiceID snowflake.ID) error

	// GetForOrg loads an invoice without the request org context; used by
	// the public surface and the webhook reconciler.
	GetForOrg(ctx context.Context, orgID, invoiceID snowflake.ID) (Invoice, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoiceID    = errors.New("invalid_invoice_id")
	ErrInvalidContact      = errors.New("invalid_contact")
	ErrInvalidItems        = errors.New("invalid_items")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvoiceNotDraft     = errors.New("invoice_not_draft")
	ErrInvoiceNotVoidable  = errors.New("invoice_not_voidable")
	ErrNumberExhausted     = errors.New("invoice_number_exhausted")
)

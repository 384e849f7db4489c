package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// InvoiceView is the token-scoped read model. It exposes the billed party's
// display name and nothing else about the contact.
type InvoiceView struct {
	OrgName       string     `json:"org_name"`
	InvoiceNumber string     `json:"invoice_number"`
	Status        string     `json:"status"`
	IssueDate     string     `json:"issue_date,omitempty"`
	DueDate       string     `json:"due_date,omitempty"`
	PaidDate      string     `json:"paid_date,omitempty"`
	BillToName    string     `json:"bill_to_name"`
	Currency      string     `json:"currency"`
	Items         []ViewItem `json:"items"`

	SubtotalAmount int64 `json:"subtotal_amount"`
	TaxAmount      int64 `json:"tax_amount"`
	DiscountAmount int64 `json:"discount_amount"`
	GratuityAmount int64 `json:"gratuity_amount"`
	TotalAmount    int64 `json:"total_amount"`
	AmountPaid     int64 `json:"amount_paid"`
	BalanceDue     int64 `json:"balance_due"`

	Notes  string `json:"notes,omitempty"`
	CanPay bool   `json:"can_pay"`
}

type ViewItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	Amount      int64  `json:"amount"`
}

type PayRequest struct {
	Amount         int64 `json:"amount"`
	GratuityAmount int64 `json:"gratuity_amount"`
}

type PaySession struct {
	URL       string `json:"url,omitempty"`
	FreeOrder bool   `json:"free_order"`
}

type Pdf struct {
	Filename string
	Content  []byte
}

type Service interface {
	View(ctx context.Context, orgID snowflake.ID, token string) (*InvoiceView, error)
	Pdf(ctx context.Context, orgID snowflake.ID, token string) (*Pdf, error)
	Pay(ctx context.Context, orgID snowflake.ID, token string, req PayRequest) (*PaySession, error)
}

// ErrInvoiceUnavailable covers every token-surface failure. Callers must not
// learn whether the token was unknown, wrong-org, or pointed at a hidden
// invoice.
var ErrInvoiceUnavailable = errors.New("invoice_unavailable")

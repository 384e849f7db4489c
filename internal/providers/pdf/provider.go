package pdf

import (
	"context"

	"github.com/gosimple/slug"
)

// Document carries pre-formatted invoice data for rendering. Amounts arrive
// as display strings so the renderer stays out of currency math.
type Document struct {
	OrgName       string
	InvoiceNumber string
	Status        string
	IssueDate     string
	DueDate       string
	PaidDate      string

	BillToName string

	Lines []Line

	Subtotal   string
	Tax        string
	Discount   string
	Gratuity   string
	Total      string
	AmountPaid string
	BalanceDue string

	Notes string

	// PayURL is rendered as a QR code when set.
	PayURL string
}

type Line struct {
	Description string
	Quantity    int64
	UnitAmount  string
	Amount      string
}

type Renderer interface {
	RenderInvoice(ctx context.Context, doc Document) ([]byte, error)
	RenderReceipt(ctx context.Context, doc Document) ([]byte, error)
}

// Filename derives a safe download name from the invoice number.
func Filename(invoiceNumber string) string {
	name := slug.Make(invoiceNumber)
	if name == "" {
		name = "invoice"
	}
	return name + ".pdf"
}

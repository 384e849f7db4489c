package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/internal/clock"
	"github.com/smallbiznis/paylink/internal/config"
	eventdomain "github.com/smallbiznis/paylink/internal/event/domain"
	"github.com/smallbiznis/paylink/internal/providers/email"
	"github.com/smallbiznis/paylink/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.Config
	Email email.Provider
	Pdf   pdf.Renderer
}

// Sink turns outbox events into customer email. Delivery errors bubble up so
// the dispatcher retries; malformed or unroutable events are dropped with a
// log line instead of wedging the queue.
type Sink struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   config.Config
	email email.Provider
	pdf   pdf.Renderer
}

func New(p Params) *Sink {
	return &Sink{
		db:    p.DB,
		log:   p.Log.Named("notification.sink"),
		clock: p.Clock,
		cfg:   p.Cfg,
		email: p.Email,
		pdf:   p.Pdf,
	}
}

func (s *Sink) Deliver(ctx context.Context, event eventdomain.OutboundEvent) error {
	switch event.EventType {
	case eventdomain.TopicInvoiceIssued:
		return s.deliverInvoiceIssued(ctx, event)
	case eventdomain.TopicPaymentConfirmed:
		return s.deliverPaymentConfirmed(ctx, event)
	case eventdomain.TopicPaymentFailed:
		s.log.Info("payment failed",
			zap.String("org_id", event.OrgID.String()),
			zap.String("invoice_id", payloadString(event.Payload, "invoice_id")),
			zap.String("failure_reason", payloadString(event.Payload, "failure_reason")),
		)
		return nil
	default:
		return nil
	}
}

func (s *Sink) deliverInvoiceIssued(ctx context.Context, event eventdomain.OutboundEvent) error {
	invoiceID := payloadString(event.Payload, "invoice_id")
	target, err := s.lookupTarget(ctx, event.OrgID, invoiceID)
	if err != nil {
		return err
	}
	if target == nil {
		s.log.Warn("dropping invoice.issued event without recipient",
			zap.String("event_id", event.ID.String()))
		return nil
	}

	number := payloadString(event.Payload, "invoice_number")
	amount := formatMinor(payloadString(event.Payload, "currency"), payloadInt64(event.Payload, "total_amount"))
	payURL := s.invoiceURL(event.OrgID, target.PaymentToken)

	subject := fmt.Sprintf("Invoice %s from %s", number, target.OrgName)
	body := fmt.Sprintf(
		`<p>Hi %s,</p>
<p>%s sent you invoice <strong>%s</strong> for <strong>%s</strong>.</p>
<p><a href="%s">View and pay your invoice</a></p>`,
		htmlEscape(target.ContactName),
		htmlEscape(target.OrgName),
		htmlEscape(number),
		amount,
		payURL,
	)

	attachment, err := s.renderInvoiceAttachment(ctx, event.OrgID, invoiceID, target, payURL)
	if err != nil {
		s.log.Warn("invoice render failed, sending without attachment", zap.Error(err))
		return s.email.Send(ctx, []string{target.ContactEmail}, subject, body)
	}

	return s.email.SendWithAttachment(ctx, []string{target.ContactEmail}, subject, body, pdf.Filename(number), attachment)
}

func (s *Sink) deliverPaymentConfirmed(ctx context.Context, event eventdomain.OutboundEvent) error {
	target, err := s.lookupTarget(ctx, event.OrgID, payloadString(event.Payload, "invoice_id"))
	if err != nil {
		return err
	}
	if target == nil {
		s.log.Warn("dropping payment.confirmed event without recipient",
			zap.String("event_id", event.ID.String()))
		return nil
	}

	currency := payloadString(event.Payload, "currency")
	number := payloadString(event.Payload, "invoice_number")
	paid := formatMinor(currency, payloadInt64(event.Payload, "amount"))
	balance := payloadInt64(event.Payload, "balance_due")
	paidDate := s.clock.Now().UTC().Format("2006-01-02")

	subject := fmt.Sprintf("Payment received for invoice %s", number)
	body := fmt.Sprintf(
		`<p>Hi %s,</p>
<p>%s received your payment of <strong>%s</strong> for invoice <strong>%s</strong>.</p>`,
		htmlEscape(target.ContactName),
		htmlEscape(target.OrgName),
		paid,
		htmlEscape(number),
	)
	if balance > 0 {
		body += fmt.Sprintf(`<p>Remaining balance: <strong>%s</strong>.</p>`, formatMinor(currency, balance))
	}

	receipt, err := s.pdf.RenderReceipt(ctx, pdf.Document{
		OrgName:       target.OrgName,
		InvoiceNumber: number,
		PaidDate:      paidDate,
		BillToName:    target.ContactName,
		AmountPaid:    paid,
		Subtotal:      paid,
		Total:         paid,
	})
	if err != nil {
		s.log.Warn("receipt render failed, sending without attachment", zap.Error(err))
		return s.email.Send(ctx, []string{target.ContactEmail}, subject, body)
	}

	filename := "receipt-" + pdf.Filename(number)
	return s.email.SendWithAttachment(ctx, []string{target.ContactEmail}, subject, body, filename, receipt)
}

type mailTarget struct {
	OrgName      string `gorm:"column:org_name"`
	ContactName  string
	ContactEmail string `gorm:"column:email"`
	PaymentToken string `gorm:"column:payment_token"`

	FirstName string `gorm:"column:first_name"`
	LastName  string `gorm:"column:last_name"`
}

func (s *Sink) lookupTarget(ctx context.Context, orgID snowflake.ID, invoiceID string) (*mailTarget, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil || id == 0 {
		return nil, nil
	}

	var row mailTarget
	if err := s.db.WithContext(ctx).Raw(
		`SELECT o.name AS org_name, c.first_name, c.last_name, c.email,
		        COALESCE(i.payment_token, '') AS payment_token
		 FROM invoices i
		 JOIN organizations o ON o.id = i.org_id
		 JOIN contacts c ON c.id = i.contact_id
		 WHERE i.id = ? AND i.org_id = ?`,
		id,
		orgID,
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ContactEmail == "" {
		return nil, nil
	}

	row.ContactName = strings.TrimSpace(row.FirstName + " " + row.LastName)
	if row.ContactName == "" {
		row.ContactName = row.ContactEmail
	}
	return &row, nil
}

type invoiceRow struct {
	InvoiceNumber  string `gorm:"column:invoice_number"`
	Status         string
	Currency       string
	SubtotalAmount int64
	TaxAmount      int64
	DiscountAmount int64
	GratuityAmount int64
	TotalAmount    int64
	AmountPaid     int64
	BalanceDue     int64
	Notes          string
	IssuedAt       *time.Time
	DueDate        *time.Time
}

type itemRow struct {
	Description string
	Quantity    int64
	UnitAmount  int64
	Amount      int64
}

// renderInvoiceAttachment rebuilds the full invoice document so the issued
// email carries the same artifact the public link serves, pay QR included.
func (s *Sink) renderInvoiceAttachment(ctx context.Context, orgID snowflake.ID, invoiceID string, target *mailTarget, payURL string) ([]byte, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return nil, err
	}

	var inv invoiceRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT invoice_number, status, currency, subtotal_amount, tax_amount,
		        discount_amount, gratuity_amount, total_amount, amount_paid,
		        balance_due, COALESCE(notes, '') AS notes, issued_at, due_date
		 FROM invoices
		 WHERE id = ? AND org_id = ?`,
		id,
		orgID,
	).Scan(&inv).Error; err != nil {
		return nil, err
	}
	if inv.InvoiceNumber == "" {
		return nil, fmt.Errorf("invoice %s has no number", invoiceID)
	}

	var items []itemRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT description, quantity, unit_amount, amount
		 FROM invoice_items
		 WHERE invoice_id = ? AND org_id = ?
		 ORDER BY position ASC`,
		id,
		orgID,
	).Scan(&items).Error; err != nil {
		return nil, err
	}

	doc := pdf.Document{
		OrgName:       target.OrgName,
		InvoiceNumber: inv.InvoiceNumber,
		Status:        inv.Status,
		IssueDate:     formatDate(inv.IssuedAt),
		DueDate:       formatDate(inv.DueDate),
		BillToName:    target.ContactName,
		Subtotal:      formatMinor(inv.Currency, inv.SubtotalAmount),
		Total:         formatMinor(inv.Currency, inv.TotalAmount),
		BalanceDue:    formatMinor(inv.Currency, inv.BalanceDue),
		Notes:         inv.Notes,
		PayURL:        payURL,
	}
	if inv.TaxAmount != 0 {
		doc.Tax = formatMinor(inv.Currency, inv.TaxAmount)
	}
	if inv.DiscountAmount != 0 {
		doc.Discount = formatMinor(inv.Currency, inv.DiscountAmount)
	}
	if inv.GratuityAmount != 0 {
		doc.Gratuity = formatMinor(inv.Currency, inv.GratuityAmount)
	}
	if inv.AmountPaid != 0 {
		doc.AmountPaid = formatMinor(inv.Currency, inv.AmountPaid)
	}
	for _, item := range items {
		doc.Lines = append(doc.Lines, pdf.Line{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  formatMinor(inv.Currency, item.UnitAmount),
			Amount:      formatMinor(inv.Currency, item.Amount),
		})
	}

	return s.pdf.RenderInvoice(ctx, doc)
}

func (s *Sink) invoiceURL(orgID snowflake.ID, token string) string {
	if token == "" {
		return s.cfg.PublicBaseURL
	}
	return fmt.Sprintf("%s/public/orgs/%s/invoice?token=%s", s.cfg.PublicBaseURL, orgID.String(), token)
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt64(payload map[string]any, key string) int64 {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func formatDate(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format("2006-01-02")
}

func formatMinor(currency string, amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s%d.%02d", strings.ToUpper(currency), sign, amount/100, amount%100)
}

func htmlEscape(v string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(v)
}

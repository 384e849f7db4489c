package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	checkoutdomain "github.com/smallbiznis/paylink/internal/checkout/domain"
	"github.com/smallbiznis/paylink/internal/clock"
	"github.com/smallbiznis/paylink/internal/config"
	invoicedomain "github.com/smallbiznis/paylink/internal/invoice/domain"
	"github.com/smallbiznis/paylink/internal/orgcontext"
	paymenttokendomain "github.com/smallbiznis/paylink/internal/paymenttoken/domain"
	"github.com/smallbiznis/paylink/internal/providers/pdf"
	"github.com/smallbiznis/paylink/internal/publicinvoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Cfg        config.Config
	Billing    *config.BillingConfigHolder
	Tokens     paymenttokendomain.Issuer
	InvoiceSvc invoicedomain.Service
	Checkout   checkoutdomain.Service
	Repo       domain.Repository
	Pdf        pdf.Renderer
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	cfg     config.Config
	billing *config.BillingConfigHolder

	tokens     paymenttokendomain.Issuer
	invoiceSvc invoicedomain.Service
	checkout   checkoutdomain.Service
	repo       domain.Repository
	pdf        pdf.Renderer
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("publicinvoice.service"),
		clock:   p.Clock,
		cfg:     p.Cfg,
		billing: p.Billing,

		tokens:     p.Tokens,
		invoiceSvc: p.InvoiceSvc,
		checkout:   p.Checkout,
		repo:       p.Repo,
		pdf:        p.Pdf,
	}
}

func (s *Service) View(ctx context.Context, orgID snowflake.ID, token string) (*domain.InvoiceView, error) {
	invoice, err := s.resolve(ctx, orgID, token)
	if err != nil {
		return nil, err
	}

	if invoice.Status == invoicedomain.InvoiceStatusSent {
		if err := s.invoiceSvc.MarkViewed(ctx, orgID, invoice.ID); err != nil {
			s.log.Warn("mark viewed failed", zap.Error(err), zap.String("invoice_id", invoice.ID.String()))
		} else {
			invoice.Status = invoicedomain.InvoiceStatusViewed
		}
	}

	return s.buildView(ctx, orgID, invoice)
}

func (s *Service) Pdf(ctx context.Context, orgID snowflake.ID, token string) (*domain.Pdf, error) {
	invoice, err := s.resolve(ctx, orgID, token)
	if err != nil {
		return nil, err
	}

	view, err := s.buildView(ctx, orgID, invoice)
	if err != nil {
		return nil, err
	}

	doc := pdf.Document{
		OrgName:       view.OrgName,
		InvoiceNumber: view.InvoiceNumber,
		Status:        view.Status,
		IssueDate:     view.IssueDate,
		DueDate:       view.DueDate,
		PaidDate:      view.PaidDate,
		BillToName:    view.BillToName,
		Subtotal:      formatMinor(view.Currency, view.SubtotalAmount),
		Total:         formatMinor(view.Currency, view.TotalAmount),
		BalanceDue:    formatMinor(view.Currency, view.BalanceDue),
		Notes:         view.Notes,
	}
	if view.TaxAmount != 0 {
		doc.Tax = formatMinor(view.Currency, view.TaxAmount)
	}
	if view.DiscountAmount != 0 {
		doc.Discount = formatMinor(view.Currency, view.DiscountAmount)
	}
	if view.GratuityAmount != 0 {
		doc.Gratuity = formatMinor(view.Currency, view.GratuityAmount)
	}
	if view.AmountPaid != 0 {
		doc.AmountPaid = formatMinor(view.Currency, view.AmountPaid)
	}
	for _, item := range view.Items {
		doc.Lines = append(doc.Lines, pdf.Line{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  formatMinor(view.Currency, item.UnitAmount),
			Amount:      formatMinor(view.Currency, item.Amount),
		})
	}
	if view.CanPay {
		doc.PayURL = s.publicPayURL(orgID, token)
	}

	content, err := s.pdf.RenderInvoice(ctx, doc)
	if err != nil {
		s.log.Error("invoice pdf render failed", zap.Error(err), zap.String("invoice_id", invoice.ID.String()))
		return nil, domain.ErrInvoiceUnavailable
	}

	return &domain.Pdf{
		Filename: pdf.Filename(view.InvoiceNumber),
		Content:  content,
	}, nil
}

func (s *Service) Pay(ctx context.Context, orgID snowflake.ID, token string, req domain.PayRequest) (*domain.PaySession, error) {
	invoice, err := s.resolve(ctx, orgID, token)
	if err != nil {
		return nil, err
	}
	if !invoice.Payable() {
		return nil, domain.ErrInvoiceUnavailable
	}

	result, err := s.checkout.Checkout(orgcontext.WithOrgID(ctx, int64(orgID)), checkoutdomain.InvoiceCheckout{
		InvoiceID:      invoice.ID.String(),
		Amount:         req.Amount,
		GratuityAmount: req.GratuityAmount,
	})
	if err != nil {
		switch {
		case errors.Is(err, checkoutdomain.ErrAmountMismatch),
			errors.Is(err, checkoutdomain.ErrInvalidAmount),
			errors.Is(err, checkoutdomain.ErrGatewayUnavailable):
			return nil, err
		}
		s.log.Warn("public pay failed", zap.Error(err), zap.String("invoice_id", invoice.ID.String()))
		return nil, domain.ErrInvoiceUnavailable
	}

	return &domain.PaySession{
		URL:       result.URL,
		FreeOrder: result.IsFreeOrder,
	}, nil
}

// resolve maps a presented token to its invoice. Every failure collapses to
// the same opaque error.
func (s *Service) resolve(ctx context.Context, orgID snowflake.ID, token string) (invoicedomain.Invoice, error) {
	if orgID == 0 || strings.TrimSpace(token) == "" {
		return invoicedomain.Invoice{}, domain.ErrInvoiceUnavailable
	}

	invoiceID, err := s.tokens.Lookup(ctx, orgID, token)
	if err != nil {
		s.log.Debug("token lookup failed", zap.Error(err), zap.String("org_id", orgID.String()))
		return invoicedomain.Invoice{}, domain.ErrInvoiceUnavailable
	}

	invoice, err := s.invoiceSvc.GetForOrg(ctx, orgID, invoiceID)
	if err != nil {
		s.log.Debug("invoice load failed", zap.Error(err), zap.String("invoice_id", invoiceID.String()))
		return invoicedomain.Invoice{}, domain.ErrInvoiceUnavailable
	}

	// Drafts have not been issued to anyone; their token does not resolve.
	if invoice.Status == invoicedomain.InvoiceStatusDraft {
		return invoicedomain.Invoice{}, domain.ErrInvoiceUnavailable
	}

	return invoice, nil
}

func (s *Service) buildView(ctx context.Context, orgID snowflake.ID, invoice invoicedomain.Invoice) (*domain.InvoiceView, error) {
	org, err := s.repo.FindOrg(ctx, s.db, orgID)
	if err != nil || org == nil {
		s.log.Warn("public view org lookup failed", zap.Error(err), zap.String("org_id", orgID.String()))
		return nil, domain.ErrInvoiceUnavailable
	}

	billTo := ""
	contact, err := s.repo.FindContact(ctx, s.db, orgID, invoice.ContactID)
	if err != nil {
		return nil, domain.ErrInvoiceUnavailable
	}
	if contact != nil {
		billTo = displayName(*contact)
	}

	items, err := s.repo.ListItems(ctx, s.db, orgID, invoice.ID)
	if err != nil {
		return nil, domain.ErrInvoiceUnavailable
	}

	number := ""
	if invoice.InvoiceNumber != nil {
		number = *invoice.InvoiceNumber
	}

	cfg := s.billing.Get()
	view := &domain.InvoiceView{
		OrgName:       org.Name,
		InvoiceNumber: number,
		Status:        invoice.DisplayStatus(s.clock.Now(), cfg.OverdueGraceDays),
		IssueDate:     formatDate(invoice.IssuedAt),
		DueDate:       formatDate(invoice.DueDate),
		PaidDate:      formatDate(invoice.PaidAt),
		BillToName:    billTo,
		Currency:      invoice.Currency,

		SubtotalAmount: invoice.SubtotalAmount,
		TaxAmount:      invoice.TaxAmount,
		DiscountAmount: invoice.DiscountAmount,
		GratuityAmount: invoice.GratuityAmount,
		TotalAmount:    invoice.TotalAmount,
		AmountPaid:     invoice.AmountPaid,
		BalanceDue:     invoice.BalanceDue,

		Notes:  invoice.Notes,
		CanPay: invoice.Payable() && invoice.BalanceDue > 0,
	}
	for _, item := range items {
		view.Items = append(view.Items, domain.ViewItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Amount:      item.Amount,
		})
	}

	return view, nil
}

func (s *Service) publicPayURL(orgID snowflake.ID, token string) string {
	return fmt.Sprintf("%s/public/orgs/%s/invoice?token=%s", s.cfg.PublicBaseURL, orgID.String(), token)
}

func displayName(c domain.ContactRecord) string {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name == "" {
		return c.Email
	}
	return name
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

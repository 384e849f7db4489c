package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paylink/internal/audit/domain"
	"github.com/smallbiznis/paylink/internal/clock"
	"github.com/smallbiznis/paylink/internal/config"
	eventdomain "github.com/smallbiznis/paylink/internal/event/domain"
	invoicedomain "github.com/smallbiznis/paylink/internal/invoice/domain"
	invoiceformat "github.com/smallbiznis/paylink/internal/invoice/format"
	"github.com/smallbiznis/paylink/internal/invoice/totals"
	"github.com/smallbiznis/paylink/internal/orgcontext"
	paymenttokendomain "github.com/smallbiznis/paylink/internal/paymenttoken/domain"
	dbpkg "github.com/smallbiznis/paylink/pkg/db"
	"github.com/smallbiznis/paylink/pkg/db/option"
	"github.com/smallbiznis/paylink/pkg/db/pagination"
	"github.com/smallbiznis/paylink/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// numberRetries bounds duplicate-key retries when two creates race for the
// same monthly sequence.
const numberRetries = 3

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Billing   *config.BillingConfigHolder
	Tokens    paymenttokendomain.Issuer
	Publisher eventdomain.Publisher
	AuditSvc  auditdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	billing     *config.BillingConfigHolder
	tokens      paymenttokendomain.Issuer
	publisher   eventdomain.Publisher
	invoicerepo repository.Repository[invoicedomain.Invoice]
	auditSvc    auditdomain.Service
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		billing:     p.Billing,
		tokens:      p.Tokens,
		publisher:   p.Publisher,
		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	contactID, err := snowflake.ParseString(strings.TrimSpace(req.ContactID))
	if err != nil || contactID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidContact
	}
	if len(req.Items) == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidItems
	}

	now := s.clock.Now()
	cfg := s.billing.Get()

	var subtotal int64
	items := make([]invoicedomain.InvoiceItem, 0, len(req.Items))
	for i, in := range req.Items {
		description := strings.TrimSpace(in.Description)
		if description == "" {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvalidItems
		}
		amount, err := totals.LineTotal(in.Quantity, in.UnitAmount, in.Amount)
		if err != nil {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvalidItems
		}
		subtotal += amount
		items = append(items, invoicedomain.InvoiceItem{
			OrgID:       orgID,
			Description: description,
			Quantity:    in.Quantity,
			UnitAmount:  in.UnitAmount,
			Amount:      amount,
			Position:    i,
			CreatedAt:   now,
		})
	}

	taxRate := req.TaxRate
	if taxRate == nil && cfg.DefaultTaxRateBps > 0 {
		rate := float64(cfg.DefaultTaxRateBps) / 100
		taxRate = &rate
	}

	breakdown, err := totals.Compute(totals.Input{
		Subtotal:       subtotal,
		TaxRate:        taxRate,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	org, err := s.loadOrganization(ctx, orgID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	contactExists, err := s.contactExists(ctx, orgID, contactID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if !contactExists {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidContact
	}

	template := strings.TrimSpace(org.NumberTemplate)
	if template == "" {
		template = strings.TrimSpace(cfg.NumberTemplate)
	}
	if template == "" {
		template = invoiceformat.DefaultInvoiceNumberTemplate
	}

	dueDate := req.DueDate
	if dueDate == nil {
		due := now.AddDate(0, 0, cfg.DueDays)
		dueDate = &due
	}

	invoice := invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		ContactID:      contactID,
		Status:         invoicedomain.InvoiceStatusDraft,
		Currency:       org.Currency,
		SubtotalAmount: breakdown.Subtotal,
		TaxRate:        taxRate,
		TaxAmount:      breakdown.TaxAmount,
		DiscountAmount: breakdown.DiscountAmount,
		TotalAmount:    breakdown.TotalAmount,
		BalanceDue:     breakdown.TotalAmount,
		DueDate:        dueDate,
		Notes:          strings.TrimSpace(req.Notes),
		Metadata:       datatypes.JSONMap{},
		IssuedAt:       &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}

		if err := s.insertWithNumber(ctx, tx, &invoice, template, now); err != nil {
			return err
		}

		for i := range items {
			items[i].ID = s.genID.Generate()
			items[i].InvoiceID = invoice.ID
			if err := s.insertInvoiceItem(ctx, tx, items[i]); err != nil {
				return err
			}
		}

		token, err := s.tokens.EnsureForInvoice(ctx, tx, orgID, invoice.ID)
		if err != nil {
			return err
		}
		invoice.PaymentToken = &token

		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.emitAudit(ctx, "invoice.created", &invoice, nil)
	return invoice, nil
}

// insertWithNumber assigns the next per-org monthly sequence and inserts the
// invoice, retrying with the following sequence when a concurrent create
// took the number first.
func (s *Service) insertWithNumber(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, template string, now time.Time) error {
	seq, err := s.nextSequence(ctx, tx, invoice.OrgID, now)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < numberRetries; attempt++ {
		number, err := invoiceformat.FormatInvoiceNumber(template, now, seq)
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = &number
		invoice.NumberYear = now.Year()
		invoice.NumberMonth = int(now.Month())
		invoice.NumberSeq = seq

		err = s.insertInvoice(ctx, tx, *invoice)
		if err == nil {
			return nil
		}
		if !dbpkg.IsDuplicateKeyErr(err) {
			return err
		}
		seq++
	}

	return invoicedomain.ErrNumberExhausted
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	filter := &invoicedomain.Invoice{OrgID: orgID}
	if req.Status != nil {
		filter.Status = *req.Status
	}
	if req.ContactID != nil {
		filter.ContactID = *req.ContactID
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
	}
	if req.CreatedFrom != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GTE,
			Value:    *req.CreatedFrom,
		}))
	}
	if req.CreatedTo != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LTE,
			Value:    *req.CreatedTo,
		}))
	}
	if req.DueFrom != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "due_date",
			Operator: option.GTE,
			Value:    *req.DueFrom,
		}))
	}
	if req.DueTo != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "due_date",
			Operator: option.LTE,
			Value:    *req.DueTo,
		}))
	}

	items, err := s.invoicerepo.Find(ctx, filter, options...)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(invoice *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	resp := invoicedomain.ListInvoiceResponse{Invoices: invoices}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}

	return s.GetForOrg(ctx, orgID, invoiceID)
}

func (s *Service) GetForOrg(ctx context.Context, orgID, invoiceID snowflake.ID) (invoicedomain.Invoice, error) {
	item, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID, OrgID: orgID})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context, invoiceID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	var items []invoicedomain.InvoiceItem
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_id, description, quantity, unit_amount, amount, position, created_at
		 FROM invoice_items
		 WHERE invoice_id = ?
		 ORDER BY position ASC, id ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) Send(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}

	var sent invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadInvoiceForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.Status != invoicedomain.InvoiceStatusDraft {
			return invoicedomain.ErrInvoiceNotDraft
		}

		now := s.clock.Now()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET status = ?, sent_at = ?, updated_at = ?
			 WHERE id = ?`,
			invoicedomain.InvoiceStatusSent,
			now,
			now,
			invoiceID,
		).Error; err != nil {
			return err
		}

		invoice.Status = invoicedomain.InvoiceStatusSent
		invoice.SentAt = &now
		invoice.UpdatedAt = now
		sent = *invoice

		payload := map[string]any{
			"invoice_id":   invoice.ID.String(),
			"contact_id":   invoice.ContactID.String(),
			"total_amount": invoice.TotalAmount,
			"currency":     invoice.Currency,
		}
		if invoice.InvoiceNumber != nil {
			payload["invoice_number"] = *invoice.InvoiceNumber
		}
		return s.publisher.WithTx(tx).Publish(ctx, orgID, eventdomain.TopicInvoiceIssued, payload,
			"invoice.issued:"+invoice.ID.String())
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.emitAudit(ctx, "invoice.sent", &sent, nil)
	return sent, nil
}

func (s *Service) Void(ctx context.Context, id string, reason string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoiceID
	}

	var voided invoicedomain.Invoice
	var previous invoicedomain.InvoiceStatus
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadInvoiceForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.Terminal() || invoice.AmountPaid > 0 {
			return invoicedomain.ErrInvoiceNotVoidable
		}
		previous = invoice.Status

		now := s.clock.Now()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET status = ?, voided_at = ?, updated_at = ?
			 WHERE id = ?`,
			invoicedomain.InvoiceStatusVoid,
			now,
			now,
			invoiceID,
		).Error; err != nil {
			return err
		}

		invoice.Status = invoicedomain.InvoiceStatusVoid
		invoice.VoidedAt = &now
		invoice.UpdatedAt = now
		voided = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	metadata := map[string]any{"previous_status": string(previous)}
	if reason = strings.TrimSpace(reason); reason != "" {
		metadata["reason"] = reason
	}
	s.emitAudit(ctx, "invoice.voided", &voided, metadata)
	return voided, nil
}

func (s *Service) MarkViewed(ctx context.Context, orgID, invoiceID snowflake.ID) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, viewed_at = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status = ?`,
		invoicedomain.InvoiceStatusViewed,
		now,
		now,
		orgID,
		invoiceID,
		invoicedomain.InvoiceStatusSent,
	).Error
}

func (s *Service) emitAudit(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"contact_id":   invoice.ContactID.String(),
		"currency":     invoice.Currency,
		"total_amount": invoice.TotalAmount,
		"balance_due":  invoice.BalanceDue,
	}
	if invoice.InvoiceNumber != nil {
		metadata["invoice_number"] = *invoice.InvoiceNumber
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := invoice.ID.String()
	orgID := invoice.OrgID
	_ = s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "invoice", &targetID, metadata)
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, invoicedomain.ErrInvalidOrganization
	}
	return orgID, nil
}

type organizationRow struct {
	ID             snowflake.ID
	Currency       string
	NumberTemplate string
}

func (s *Service) loadOrganization(ctx context.Context, orgID snowflake.ID) (*organizationRow, error) {
	var org organizationRow
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, currency_code AS currency, invoice_number_template AS number_template
		 FROM organizations
		 WHERE id = ?`,
		orgID,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}
	return &org, nil
}

func (s *Service) contactExists(ctx context.Context, orgID, contactID snowflake.ID) (bool, error) {
	var id snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM contacts WHERE org_id = ? AND id = ?`,
		orgID,
		contactID,
	).Scan(&id).Error
	if err != nil {
		return false, err
	}
	return id != 0, nil
}

func (s *Service) lockOrganization(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error {
	stmt := `SELECT id FROM organizations WHERE id = ? FOR UPDATE`
	if tx.Dialector.Name() == "sqlite" {
		// sqlite serializes writers; there is no row lock to take.
		stmt = `SELECT id FROM organizations WHERE id = ?`
	}
	var id snowflake.ID
	err := tx.WithContext(ctx).Raw(stmt, orgID).Scan(&id).Error
	if err != nil {
		return err
	}
	if id == 0 {
		return invoicedomain.ErrInvalidOrganization
	}
	return nil
}

func (s *Service) nextSequence(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, now time.Time) (int64, error) {
	var next int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(number_seq), 0) + 1
		 FROM invoices
		 WHERE org_id = ? AND number_year = ? AND number_month = ?`,
		orgID,
		now.Year(),
		int(now.Month()),
	).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Service) insertInvoice(ctx context.Context, tx *gorm.DB, invoice invoicedomain.Invoice) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, org_id, contact_id, invoice_number, number_year, number_month, number_seq,
			status, currency, subtotal_amount, tax_rate, tax_amount, discount_amount,
			gratuity_amount, total_amount, amount_paid, balance_due,
			due_date, notes, metadata, issued_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.OrgID,
		invoice.ContactID,
		invoice.InvoiceNumber,
		invoice.NumberYear,
		invoice.NumberMonth,
		invoice.NumberSeq,
		invoice.Status,
		invoice.Currency,
		invoice.SubtotalAmount,
		invoice.TaxRate,
		invoice.TaxAmount,
		invoice.DiscountAmount,
		invoice.GratuityAmount,
		invoice.TotalAmount,
		invoice.AmountPaid,
		invoice.BalanceDue,
		invoice.DueDate,
		invoice.Notes,
		invoice.Metadata,
		invoice.IssuedAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (s *Service) insertInvoiceItem(ctx context.Context, tx *gorm.DB, item invoicedomain.InvoiceItem) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoice_items (
			id, org_id, invoice_id, description, quantity, unit_amount, amount, position, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.OrgID,
		item.InvoiceID,
		item.Description,
		item.Quantity,
		item.UnitAmount,
		item.Amount,
		item.Position,
		item.CreatedAt,
	).Error
}

func (s *Service) loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	stmt := `SELECT id, org_id, contact_id, invoice_number, number_year, number_month, number_seq,
	                status, currency, subtotal_amount, tax_rate, tax_amount, discount_amount,
	                gratuity_amount, total_amount, amount_paid, balance_due, payment_token,
	                due_date, notes, issued_at, sent_at, viewed_at, paid_at, voided_at,
	                created_at, updated_at
	         FROM invoices
	         WHERE org_id = ? AND id = ?
	         FOR UPDATE`
	if tx.Dialector.Name() == "sqlite" {
		stmt = strings.TrimSuffix(strings.TrimSpace(stmt), "FOR UPDATE")
	}

	var invoice invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(stmt, orgID, invoiceID).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

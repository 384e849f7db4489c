package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paylink/internal/audit/domain"
	"github.com/smallbiznis/paylink/internal/clock"
	"github.com/smallbiznis/paylink/internal/config"
	eventservice "github.com/smallbiznis/paylink/internal/event/service"
	invoicedomain "github.com/smallbiznis/paylink/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/paylink/internal/invoice/service"
	"github.com/smallbiznis/paylink/internal/orgcontext"
	tokenservice "github.com/smallbiznis/paylink/internal/paymenttoken/service"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type noopAuditService struct{}

func (noopAuditService) AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (noopAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

const (
	testOrgID     = int64(7001)
	testContactID = int64(8001)
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_invoice_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE organizations (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			currency_code TEXT NOT NULL,
			invoice_number_template TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE contacts (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			first_name TEXT NOT NULL,
			email TEXT NOT NULL
		)`,
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			contact_id BIGINT NOT NULL,
			invoice_number TEXT,
			number_year INTEGER NOT NULL DEFAULT 0,
			number_month INTEGER NOT NULL DEFAULT 0,
			number_seq BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			currency TEXT NOT NULL,
			subtotal_amount BIGINT NOT NULL DEFAULT 0,
			tax_rate REAL,
			tax_amount BIGINT NOT NULL DEFAULT 0,
			discount_amount BIGINT NOT NULL DEFAULT 0,
			gratuity_amount BIGINT NOT NULL DEFAULT 0,
			total_amount BIGINT NOT NULL DEFAULT 0,
			amount_paid BIGINT NOT NULL DEFAULT 0,
			balance_due BIGINT NOT NULL DEFAULT 0,
			payment_token TEXT,
			due_date TIMESTAMP,
			notes TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			issued_at TIMESTAMP,
			sent_at TIMESTAMP,
			viewed_at TIMESTAMP,
			paid_at TIMESTAMP,
			voided_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_invoices_org_number ON invoices(org_id, invoice_number)`,
		`CREATE UNIQUE INDEX ux_invoices_payment_token ON invoices(payment_token)`,
		`CREATE TABLE invoice_items (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			invoice_id BIGINT NOT NULL,
			description TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			unit_amount BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE outbound_events (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			dedupe_key TEXT,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			published_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_outbound_event_dedupe ON outbound_events(org_id, dedupe_key)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	seed := []string{
		fmt.Sprintf(`INSERT INTO organizations (id, name, currency_code, invoice_number_template) VALUES (%d, 'Acme', 'USD', '')`, testOrgID),
		fmt.Sprintf(`INSERT INTO contacts (id, org_id, first_name, email) VALUES (%d, %d, 'Ada', 'ada@example.com')`, testContactID, testOrgID),
	}
	for _, stmt := range seed {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	return db
}

func newInvoiceService(t *testing.T, db *gorm.DB, clk clock.Clock) invoicedomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(30)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	return invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Billing:   config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Tokens:    tokenservice.New(tokenservice.Params{DB: db, Log: zap.NewNop()}),
		Publisher: eventservice.NewOutboxPublisher(db, node),
		AuditSvc:  noopAuditService{},
	})
}

func createInvoice(t *testing.T, svc invoicedomain.Service, ctx context.Context, taxRate *float64, discount int64, items ...invoicedomain.InvoiceItemInput) invoicedomain.Invoice {
	t.Helper()
	if len(items) == 0 {
		items = []invoicedomain.InvoiceItemInput{{Description: "Consulting", Quantity: 1, UnitAmount: 10000}}
	}
	invoice, err := svc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		ContactID:      snowflake.ID(testContactID).String(),
		Items:          items,
		TaxRate:        taxRate,
		DiscountAmount: discount,
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return invoice
}

func TestCreateComputesTotalsAndMintsToken(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC))
	svc := newInvoiceService(t, db, clk)
	ctx := orgcontext.WithOrgID(context.Background(), testOrgID)

	rate := 10.0
	invoice := createInvoice(t, svc, ctx, &rate, 0)

	if invoice.SubtotalAmount != 10000 {
		t.Fatalf("expected subtotal 10000, got %d", invoice.SubtotalAmount)
	}
	if invoice.TaxAmount != 1000 {
		t.Fatalf("expected tax 1000, got %d", invoice.TaxAmount)
	}
	if invoice.TotalAmount != 11000 || invoice.BalanceDue != 11000 {
		t.Fatalf("expected total/balance 11000, got %d/%d", invoice.TotalAmount, invoice.BalanceDue)
	}
	if invoice.InvoiceNumber == nil || *invoice.InvoiceNumber != "INV-202608-001" {
		t.Fatalf("unexpected invoice number %v", invoice.InvoiceNumber)
	}
	if invoice.PaymentToken == nil || len(*invoice.PaymentToken) < 40 {
		t.Fatal("expected payment token to be minted")
	}
	if invoice.Status != invoicedomain.InvoiceStatusDraft {
		t.Fatalf("expected draft, got %s", invoice.Status)
	}

	items, err := svc.ListItems(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 1 || items[0].Amount != 10000 {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestCreateAssignsSequentialMonthlyNumbers(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC))
	svc := newInvoiceService(t, db, clk)
	ctx := orgcontext.WithOrgID(context.Background(), testOrgID)

	first := createInvoice(t, svc, ctx, nil, 0)
	second := createInvoice(t, svc, ctx, nil, 0)
	if *first.InvoiceNumber != "INV-202608-001" || *second.InvoiceNumber != "INV-202608-002" {
		t.Fatalf("unexpected numbers %s, %s", *first.InvoiceNumber, *second.InvoiceNumber)
	}

	// A new month restarts the sequence.
	clk.Advance(31 * 24 * time.Hour)
	third := createInvoice(t, svc, ctx, nil, 0)
	if *third.InvoiceNumber != "INV-202609-001" {
		t.Fatalf("expected INV-202609-001, got %s", *third.InvoiceNumber)
	}
}

func TestCreateRetriesOnNumberCollision(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC))
	svc := newInvoiceService(t, db, clk)
	ctx := orgcontext.WithOrgID(context.Background(), testOrgID)

	// An imported invoice holds INV-202608-001 without occupying a
	// sequence slot, so the next computed number collides on insert.
	err := db.Exec(
		`INSERT INTO invoices (id, org_id, contact_id, invoice_number, number_year, number_month, number_seq,
			status, currency, created_at, updated_at)
		 VALUES (9001, ?, ?, 'INV-202608-001', 0, 0, 0, 'PAID', 'USD', ?, ?)`,
		testOrgID, testContactID, clk.Now(), clk.Now(),
	).Error
	if err != nil {
		t.Fatalf("seed imported invoice: %v", err)
	}

	invoice := createInvoice(t, svc, ctx, nil, 0)
	if invoice.InvoiceNumber == nil || *invoice.InvoiceNumber != "INV-202608-002" {
		t.Fatalf("expected retry to assign INV-202608-002, got %v", invoice.InvoiceNumber)
	}
	if invoice.NumberSeq != 2 {
		t.Fatalf("expected sequence 2 after collision, got %d", invoice.NumberSeq)
	}
}

func TestCreateFullDiscountYieldsZeroBalance(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC))
	svc := newInvoiceService(t, db, clk)
	ctx := orgcontext.WithOrgID(context.Background(), testOrgID)

	invoice := createInvoice(t, svc, ctx, nil, 5000,
		invoicedomain.InvoiceItemInput{Description: "Setup", Quantity: 1, UnitAmount: 5000})
	if invoice.TotalAmount != 0 || invoice.BalanceDue != 0 {
		t.Fatalf("expected zero total/balance, got %d/%d", invoice.TotalAmount, invoice.BalanceDue)
	}
}

func TestSendAndVoidTransitions(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC))
	svc := newInvoiceService(t, db, clk)
	ctx := orgcontext.WithOrgID(context.Background(), testOrgID)

	invoice := createInvoice(t, svc, ctx, nil, 0)

	sent, err := svc.Send(ctx, invoice.ID.String())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Status != invoicedomain.InvoiceStatusSent || sent.SentAt == nil {
		t.Fatalf("expected sent, got %+v", sent.Status)
	}

	if _, err := svc.Send(ctx, invoice.ID.String()); err != invoicedomain.ErrInvoiceNotDraft {
		t.Fatalf("expected ErrInvoiceNotDraft on resend, got %v", err)
	}

	var events int64
	if err := db.Raw(`SELECT COUNT(*) FROM outbound_events WHERE event_type = 'invoice.issued'`).Scan(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected one issued event, got %d", events)
	}

	voided, err := svc.Void(ctx, invoice.ID.String(), "customer cancelled")
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != invoicedomain.InvoiceStatusVoid {
		t.Fatalf("expected void, got %s", voided.Status)
	}

	if _, err := svc.Void(ctx, invoice.ID.String(), ""); err != invoicedomain.ErrInvoiceNotVoidable {
		t.Fatalf("expected ErrInvoiceNotVoidable, got %v", err)
	}
}

func TestMarkViewedFlipsSentOnly(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC))
	svc := newInvoiceService(t, db, clk)
	ctx := orgcontext.WithOrgID(context.Background(), testOrgID)

	invoice := createInvoice(t, svc, ctx, nil, 0)

	// Draft invoices are not flipped.
	if err := svc.MarkViewed(ctx, invoice.OrgID, invoice.ID); err != nil {
		t.Fatalf("mark viewed draft: %v", err)
	}
	got, err := svc.GetByID(ctx, invoice.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != invoicedomain.InvoiceStatusDraft {
		t.Fatalf("draft should stay draft, got %s", got.Status)
	}

	if _, err := svc.Send(ctx, invoice.ID.String()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := svc.MarkViewed(ctx, invoice.OrgID, invoice.ID); err != nil {
		t.Fatalf("mark viewed: %v", err)
	}
	got, err = svc.GetByID(ctx, invoice.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != invoicedomain.InvoiceStatusViewed || got.ViewedAt == nil {
		t.Fatalf("expected viewed, got %s", got.Status)
	}

	viewedAt := *got.ViewedAt
	clk.Advance(time.Hour)
	if err := svc.MarkViewed(ctx, invoice.OrgID, invoice.ID); err != nil {
		t.Fatalf("second mark viewed: %v", err)
	}
	got, err = svc.GetByID(ctx, invoice.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ViewedAt.Equal(viewedAt) {
		t.Fatal("viewed_at must not change on later views")
	}
}

func TestOverdueIsDerivedAtReadTime(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	svc := newInvoiceService(t, db, clk)
	ctx := orgcontext.WithOrgID(context.Background(), testOrgID)

	invoice := createInvoice(t, svc, ctx, nil, 0)
	if _, err := svc.Send(ctx, invoice.ID.String()); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := svc.GetByID(ctx, invoice.ID.String())
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.DisplayStatus(start, 0) != string(invoicedomain.InvoiceStatusSent) {
		t.Fatalf("expected SENT before due date, got %s", got.DisplayStatus(start, 0))
	}

	pastDue := got.DueDate.AddDate(0, 0, 1)
	if got.DisplayStatus(pastDue, 0) != invoicedomain.DerivedStatusOverdue {
		t.Fatalf("expected OVERDUE, got %s", got.DisplayStatus(pastDue, 0))
	}
	// Grace days push the boundary out.
	if got.DisplayStatus(pastDue, 7) != string(invoicedomain.InvoiceStatusSent) {
		t.Fatalf("expected SENT within grace, got %s", got.DisplayStatus(pastDue, 7))
	}
	// The stored status never changes.
	if got.Status != invoicedomain.InvoiceStatusSent {
		t.Fatalf("stored status mutated to %s", got.Status)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC))
	svc := newInvoiceService(t, db, clk)
	ctx := orgcontext.WithOrgID(context.Background(), testOrgID)

	_, err := svc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		ContactID: snowflake.ID(testContactID).String(),
	})
	if err != invoicedomain.ErrInvalidItems {
		t.Fatalf("expected ErrInvalidItems, got %v", err)
	}

	_, err = svc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		ContactID: snowflake.ID(99999).String(),
		Items:     []invoicedomain.InvoiceItemInput{{Description: "x", Quantity: 1, UnitAmount: 100}},
	})
	if err != invoicedomain.ErrInvalidContact {
		t.Fatalf("expected ErrInvalidContact, got %v", err)
	}

	_, err = svc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		ContactID: snowflake.ID(testContactID).String(),
		Items:     []invoicedomain.InvoiceItemInput{{Description: "x", Quantity: 0, UnitAmount: 100}},
	})
	if err != invoicedomain.ErrInvalidItems {
		t.Fatalf("expected ErrInvalidItems for zero quantity, got %v", err)
	}
}

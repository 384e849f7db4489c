package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paylink/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/paylink/internal/checkout/domain"
	checkoutservice "github.com/smallbiznis/paylink/internal/checkout/service"
	"github.com/smallbiznis/paylink/internal/clock"
	"github.com/smallbiznis/paylink/internal/config"
	contactrepo "github.com/smallbiznis/paylink/internal/contact/repository"
	contactservice "github.com/smallbiznis/paylink/internal/contact/service"
	eventservice "github.com/smallbiznis/paylink/internal/event/service"
	invoicedomain "github.com/smallbiznis/paylink/internal/invoice/domain"
	invoiceservice "github.com/smallbiznis/paylink/internal/invoice/service"
	ledgerservice "github.com/smallbiznis/paylink/internal/ledger/service"
	"github.com/smallbiznis/paylink/internal/orgcontext"
	paymentrepo "github.com/smallbiznis/paylink/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paylink/internal/payment/service"
	tokenservice "github.com/smallbiznis/paylink/internal/paymenttoken/service"
	vaultrepo "github.com/smallbiznis/paylink/internal/vault/repository"
	vaultservice "github.com/smallbiznis/paylink/internal/vault/service"
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

type fakeGateway struct {
	sessions   []checkoutdomain.CreateSessionInput
	charges    []checkoutdomain.OffSessionChargeInput
	sessionErr error
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, in checkoutdomain.CreateSessionInput) (*checkoutdomain.GatewaySession, error) {
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	g.sessions = append(g.sessions, in)
	return &checkoutdomain.GatewaySession{
		ID:  fmt.Sprintf("cs_test_%d", len(g.sessions)),
		URL: "https://checkout.stripe.test/pay/cs_test",
	}, nil
}

func (g *fakeGateway) CreateOffSessionCharge(ctx context.Context, in checkoutdomain.OffSessionChargeInput) (string, error) {
	g.charges = append(g.charges, in)
	return fmt.Sprintf("pi_test_%d", len(g.charges)), nil
}

type fakeCustomerGateway struct {
	err   error
	calls int
}

func (g *fakeCustomerGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return fmt.Sprintf("cus_test_%d", g.calls), nil
}

const (
	testOrgID     = int64(7001)
	testContactID = int64(8001)
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_checkout_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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
		`CREATE TABLE checkout_sessions (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			invoice_id BIGINT,
			lead_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			provider_session_id TEXT NOT NULL DEFAULT '',
			client_reference TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			gratuity_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_checkout_sessions_reference ON checkout_sessions(client_reference)`,
		`CREATE TABLE gateway_customers (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			contact_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			provider_customer_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_gateway_customers_contact ON gateway_customers(org_id, contact_id)`,
		`CREATE TABLE payment_events (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			invoice_id BIGINT,
			lead_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_payment_events_provider_event ON payment_events(provider, provider_event_id)`,
		`CREATE TABLE payment_records (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			invoice_id BIGINT,
			lead_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			provider_payment_id TEXT NOT NULL,
			status TEXT NOT NULL,
			amount BIGINT NOT NULL,
			gratuity_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			failure_reason TEXT,
			metadata TEXT,
			occurred_at TIMESTAMP NOT NULL,
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
		fmt.Sprintf(`INSERT INTO organizations (id, name, currency_code) VALUES (%d, 'Acme', 'USD')`, testOrgID),
		fmt.Sprintf(`INSERT INTO contacts (id, org_id, first_name, last_name, email) VALUES (%d, %d, 'Ada', 'Lovelace', 'ada@example.com')`, testContactID, testOrgID),
	}
	for _, stmt := range seed {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	return db
}

type harness struct {
	db         *gorm.DB
	checkout   checkoutdomain.Service
	invoiceSvc invoicedomain.Service
	gateway    *fakeGateway
	custGW     *fakeCustomerGateway
}

func newHarness(t *testing.T) *harness {
	db := setupTestDB(t)

	node, err := snowflake.NewNode(32)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, time.August, 20, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	publisher := eventservice.NewOutboxPublisher(db, node)

	invoiceSvc := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Billing:   config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Tokens:    tokenservice.New(tokenservice.Params{DB: db, Log: log}),
		Publisher: publisher,
		AuditSvc:  noopAuditService{},
	})

	contactSvc := contactservice.New(contactservice.Params{
		DB: db, Log: log, GenID: node, Repo: contactrepo.Provide(),
	})

	custGW := &fakeCustomerGateway{}
	vaultSvc := vaultservice.New(vaultservice.Params{
		DB: db, Log: log, GenID: node, Repo: vaultrepo.Provide(), Gateway: custGW,
	})

	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		LedgerSvc: ledgerservice.NewService(ledgerservice.Params{
			DB: db, Log: log, GenID: node,
		}),
		AuditSvc:  noopAuditService{},
		Repo:      paymentrepo.Provide(),
		Publisher: publisher,
	})

	gw := &fakeGateway{}
	checkoutSvc := checkoutservice.NewService(checkoutservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Cfg:        config.Config{PublicBaseURL: "https://pay.example.com"},
		InvoiceSvc: invoiceSvc,
		ContactSvc: contactSvc,
		PaymentSvc: paymentSvc,
		AuditSvc:   noopAuditService{},
		Vault:      vaultSvc,
		Gateway:    gw,
	})

	return &harness{
		db:         db,
		checkout:   checkoutSvc,
		invoiceSvc: invoiceSvc,
		gateway:    gw,
		custGW:     custGW,
	}
}

func orgCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), testOrgID)
}

func (h *harness) sentInvoice(t *testing.T, ctx context.Context, unitAmount int64, taxRate *float64, discount int64) invoicedomain.Invoice {
	t.Helper()
	invoice, err := h.invoiceSvc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		ContactID:      snowflake.ID(testContactID).String(),
		Items:          []invoicedomain.InvoiceItemInput{{Description: "Consulting", Quantity: 1, UnitAmount: unitAmount}},
		TaxRate:        taxRate,
		DiscountAmount: discount,
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	sent, err := h.invoiceSvc.Send(ctx, invoice.ID.String())
	if err != nil {
		t.Fatalf("send invoice: %v", err)
	}
	return sent
}

func floatPtr(v float64) *float64 { return &v }

func TestInvoiceCheckoutCreatesGatewaySession(t *testing.T) {
	h := newHarness(t)
	ctx := orgCtx()

	invoice := h.sentInvoice(t, ctx, 10000, floatPtr(10), 0)
	if invoice.BalanceDue != 11000 {
		t.Fatalf("expected balance 11000, got %d", invoice.BalanceDue)
	}

	result, err := h.checkout.Checkout(ctx, checkoutdomain.InvoiceCheckout{
		InvoiceID:      invoice.ID.String(),
		Amount:         11500,
		GratuityAmount: 500,
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.IsFreeOrder {
		t.Fatal("expected gateway checkout, got free order")
	}
	if result.URL == "" || result.ProviderSessionID == "" {
		t.Fatalf("expected hosted page url and session id, got %+v", result)
	}

	if len(h.gateway.sessions) != 1 {
		t.Fatalf("expected 1 gateway session, got %d", len(h.gateway.sessions))
	}
	session := h.gateway.sessions[0]
	if len(session.Lines) != 2 {
		t.Fatalf("expected invoice + gratuity lines, got %d", len(session.Lines))
	}
	if session.Lines[0].Amount != 11000 || session.Lines[1].Amount != 500 {
		t.Fatalf("expected line split 11000/500, got %d/%d", session.Lines[0].Amount, session.Lines[1].Amount)
	}
	if session.Metadata["invoice_id"] != invoice.ID.String() {
		t.Fatalf("expected invoice metadata, got %v", session.Metadata)
	}
	if session.Metadata["gratuity_amount"] != "500" {
		t.Fatalf("expected gratuity metadata, got %v", session.Metadata)
	}
	if !session.SetupFutureUsage {
		t.Fatal("expected setup_future_usage with vault customer attached")
	}

	var status string
	if err := h.db.Raw(`SELECT status FROM checkout_sessions WHERE invoice_id = ?`, invoice.ID).Scan(&status).Error; err != nil {
		t.Fatalf("load session row: %v", err)
	}
	if status != "open" {
		t.Fatalf("expected open session row, got %s", status)
	}
}

func TestInvoiceCheckoutRejectsAmountMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := orgCtx()

	invoice := h.sentInvoice(t, ctx, 10000, nil, 0)

	_, err := h.checkout.Checkout(ctx, checkoutdomain.InvoiceCheckout{
		InvoiceID: invoice.ID.String(),
		Amount:    10002,
	})
	if !errors.Is(err, checkoutdomain.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if len(h.gateway.sessions) != 0 {
		t.Fatal("expected no gateway call on mismatch")
	}

	// One minor unit off is tolerated.
	if _, err := h.checkout.Checkout(ctx, checkoutdomain.InvoiceCheckout{
		InvoiceID: invoice.ID.String(),
		Amount:    10001,
	}); err != nil {
		t.Fatalf("expected 1 minor unit tolerance, got %v", err)
	}
}

func TestFreeOrderBypassesGateway(t *testing.T) {
	h := newHarness(t)
	ctx := orgCtx()

	invoice := h.sentInvoice(t, ctx, 5000, nil, 5000)
	if invoice.BalanceDue != 0 {
		t.Fatalf("expected zero balance, got %d", invoice.BalanceDue)
	}

	result, err := h.checkout.Checkout(ctx, checkoutdomain.InvoiceCheckout{
		InvoiceID: invoice.ID.String(),
		Amount:    0,
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !result.IsFreeOrder {
		t.Fatal("expected free order result")
	}
	if result.URL != "" {
		t.Fatalf("expected no hosted page url, got %s", result.URL)
	}
	if len(h.gateway.sessions) != 0 {
		t.Fatal("expected gateway bypass for free order")
	}

	var status string
	if err := h.db.Raw(`SELECT status FROM invoices WHERE id = ?`, invoice.ID).Scan(&status).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	if status != "PAID" {
		t.Fatalf("expected invoice PAID, got %s", status)
	}

	var count int64
	if err := h.db.Raw(`SELECT COUNT(*) FROM payment_records WHERE invoice_id = ? AND amount = 0 AND status = 'succeeded'`, invoice.ID).Scan(&count).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one zero-amount payment record, got %d", count)
	}

	var sessionStatus string
	if err := h.db.Raw(`SELECT status FROM checkout_sessions WHERE invoice_id = ?`, invoice.ID).Scan(&sessionStatus).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sessionStatus != "bypassed" {
		t.Fatalf("expected bypassed session, got %s", sessionStatus)
	}
}

func TestQuoteCheckoutSplitsGratuity(t *testing.T) {
	h := newHarness(t)
	ctx := orgCtx()

	result, err := h.checkout.Checkout(ctx, checkoutdomain.QuoteCheckout{
		LeadID:         "lead-42",
		Description:    "Kitchen remodel deposit",
		Amount:         5500,
		GratuityAmount: 500,
		GratuityType:   "percent",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.URL == "" {
		t.Fatal("expected hosted page url")
	}

	if len(h.gateway.sessions) != 1 {
		t.Fatalf("expected 1 gateway session, got %d", len(h.gateway.sessions))
	}
	session := h.gateway.sessions[0]
	if session.Lines[0].Amount != 5000 || session.Lines[1].Amount != 500 {
		t.Fatalf("expected base/gratuity split 5000/500, got %d/%d", session.Lines[0].Amount, session.Lines[1].Amount)
	}
	if session.Metadata["lead_id"] != "lead-42" {
		t.Fatalf("expected lead metadata, got %v", session.Metadata)
	}
}

func TestVaultFailureDegradesToAnonymousCheckout(t *testing.T) {
	h := newHarness(t)
	h.custGW.err = errors.New("stripe unavailable")
	ctx := orgCtx()

	invoice := h.sentInvoice(t, ctx, 10000, nil, 0)

	result, err := h.checkout.Checkout(ctx, checkoutdomain.InvoiceCheckout{
		InvoiceID: invoice.ID.String(),
		Amount:    10000,
	})
	if err != nil {
		t.Fatalf("expected checkout to proceed without vault customer, got %v", err)
	}
	if result.URL == "" {
		t.Fatal("expected hosted page url")
	}

	session := h.gateway.sessions[0]
	if session.CustomerID != "" {
		t.Fatalf("expected anonymous checkout, got customer %s", session.CustomerID)
	}
	if session.CustomerEmail != "ada@example.com" {
		t.Fatalf("expected contact email fallback, got %s", session.CustomerEmail)
	}
	if session.SetupFutureUsage {
		t.Fatal("expected no setup_future_usage without vault customer")
	}
}

func TestChargeSavedPaymentMethod(t *testing.T) {
	h := newHarness(t)
	ctx := orgCtx()

	invoice := h.sentInvoice(t, ctx, 10000, nil, 0)

	// No vault mapping yet.
	_, err := h.checkout.ChargeSavedPaymentMethod(ctx, checkoutdomain.ChargeSavedPaymentMethodRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    10000,
	})
	if !errors.Is(err, checkoutdomain.ErrNoSavedPaymentMethod) {
		t.Fatalf("expected ErrNoSavedPaymentMethod, got %v", err)
	}

	if err := h.db.Exec(
		`INSERT INTO gateway_customers (id, org_id, contact_id, provider, provider_customer_id) VALUES (1, ?, ?, 'stripe', 'cus_saved')`,
		testOrgID, testContactID,
	).Error; err != nil {
		t.Fatalf("seed gateway customer: %v", err)
	}

	_, err = h.checkout.ChargeSavedPaymentMethod(ctx, checkoutdomain.ChargeSavedPaymentMethodRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    9000,
	})
	if !errors.Is(err, checkoutdomain.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}

	result, err := h.checkout.ChargeSavedPaymentMethod(ctx, checkoutdomain.ChargeSavedPaymentMethodRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    10000,
	})
	if err != nil {
		t.Fatalf("charge saved payment method: %v", err)
	}
	if result.ProviderPaymentID == "" || result.Status != "pending" {
		t.Fatalf("expected pending charge result, got %+v", result)
	}

	if len(h.gateway.charges) != 1 {
		t.Fatalf("expected 1 off-session charge, got %d", len(h.gateway.charges))
	}
	charge := h.gateway.charges[0]
	if charge.CustomerID != "cus_saved" {
		t.Fatalf("expected saved customer, got %s", charge.CustomerID)
	}
	if charge.Metadata["invoice_id"] != invoice.ID.String() {
		t.Fatalf("expected invoice metadata, got %v", charge.Metadata)
	}
}

package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paylink/internal/audit/domain"
	"github.com/smallbiznis/paylink/internal/clock"
	eventservice "github.com/smallbiznis/paylink/internal/event/service"
	ledgerservice "github.com/smallbiznis/paylink/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/paylink/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/paylink/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paylink/internal/payment/service"
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
	testInvoiceID = int64(9001)
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			contact_id BIGINT NOT NULL,
			invoice_number TEXT,
			status TEXT NOT NULL DEFAULT 'DRAFT',
			currency TEXT NOT NULL,
			subtotal_amount BIGINT NOT NULL DEFAULT 0,
			tax_amount BIGINT NOT NULL DEFAULT 0,
			discount_amount BIGINT NOT NULL DEFAULT 0,
			gratuity_amount BIGINT NOT NULL DEFAULT 0,
			total_amount BIGINT NOT NULL DEFAULT 0,
			amount_paid BIGINT NOT NULL DEFAULT 0,
			balance_due BIGINT NOT NULL DEFAULT 0,
			paid_at TIMESTAMP,
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE payment_events (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			invoice_id BIGINT,
			lead_id TEXT,
			payload TEXT NOT NULL,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX ux_payment_events_provider_event ON payment_events(provider, provider_event_id)`,
		`CREATE TABLE payment_records (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			invoice_id BIGINT,
			lead_id TEXT,
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
		`CREATE TABLE checkout_sessions (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			invoice_id BIGINT,
			lead_id TEXT,
			provider TEXT NOT NULL,
			provider_session_id TEXT,
			client_reference TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			gratuity_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
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

	return db
}

func seedInvoice(t *testing.T, db *gorm.DB, status string, total, paid int64) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO invoices (
			id, org_id, contact_id, invoice_number, status, currency,
			subtotal_amount, total_amount, amount_paid, balance_due, updated_at
		) VALUES (?, ?, ?, 'INV-202608-001', ?, 'USD', ?, ?, ?, ?, ?)`,
		testInvoiceID, testOrgID, testContactID, status,
		total, total, paid, total-paid, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
}

func newPaymentService(t *testing.T, db *gorm.DB) *paymentservice.Service {
	t.Helper()

	node, err := snowflake.NewNode(31)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))

	return paymentservice.NewService(paymentservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		LedgerSvc: ledgerservice.NewService(ledgerservice.Params{
			DB:    db,
			Log:   zap.NewNop(),
			GenID: node,
		}),
		AuditSvc:  noopAuditService{},
		Repo:      paymentrepo.Provide(),
		Publisher: eventservice.NewOutboxPublisher(db, node),
	})
}

func paymentEvent(eventID string, eventType string, amount, gratuity int64) *paymentdomain.PaymentEvent {
	return &paymentdomain.PaymentEvent{
		Provider:            "stripe",
		ProviderEventID:     eventID,
		ProviderPaymentID:   "pi_" + eventID,
		ProviderPaymentType: "payment_intent",
		Type:                eventType,
		OrgID:               snowflake.ID(testOrgID),
		InvoiceID:           snowflake.ID(testInvoiceID),
		Amount:              amount,
		GratuityAmount:      gratuity,
		Currency:            "USD",
		OccurredAt:          time.Date(2026, time.August, 15, 11, 59, 0, 0, time.UTC),
	}
}

func rawPayload(t *testing.T, eventID string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"id": eventID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

type invoiceRow struct {
	Status         string
	AmountPaid     int64
	GratuityAmount int64
	BalanceDue     int64
	PaidAt         *time.Time
}

func loadInvoice(t *testing.T, db *gorm.DB) invoiceRow {
	t.Helper()
	var row invoiceRow
	if err := db.Raw(
		`SELECT status, amount_paid, gratuity_amount, balance_due, paid_at FROM invoices WHERE id = ?`,
		testInvoiceID,
	).Scan(&row).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	return row
}

func countRows(t *testing.T, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}

func TestFullPaymentSettlesInvoice(t *testing.T) {
	db := setupTestDB(t)
	seedInvoice(t, db, "SENT", 11000, 0)
	svc := newPaymentService(t, db)
	ctx := context.Background()

	event := paymentEvent("evt_full", paymentdomain.EventTypePaymentSucceeded, 11000, 0)
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_full")); err != nil {
		t.Fatalf("process event: %v", err)
	}

	row := loadInvoice(t, db)
	if row.Status != "PAID" {
		t.Fatalf("expected PAID, got %s", row.Status)
	}
	if row.AmountPaid != 11000 || row.BalanceDue != 0 {
		t.Fatalf("expected amount_paid=11000 balance=0, got %d/%d", row.AmountPaid, row.BalanceDue)
	}
	if row.PaidAt == nil {
		t.Fatal("expected paid_at set")
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_records WHERE invoice_id = ? AND status = 'succeeded'`, testInvoiceID); n != 1 {
		t.Fatalf("expected 1 payment record, got %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM outbound_events WHERE event_type = 'payment.confirmed'`); n != 1 {
		t.Fatalf("expected 1 payment.confirmed event, got %d", n)
	}
}

func TestPartialPaymentLeavesBalance(t *testing.T) {
	db := setupTestDB(t)
	seedInvoice(t, db, "SENT", 10000, 0)
	svc := newPaymentService(t, db)
	ctx := context.Background()

	event := paymentEvent("evt_partial", paymentdomain.EventTypePaymentSucceeded, 4000, 0)
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_partial")); err != nil {
		t.Fatalf("process event: %v", err)
	}

	row := loadInvoice(t, db)
	if row.Status != "PARTIAL" {
		t.Fatalf("expected PARTIAL, got %s", row.Status)
	}
	if row.AmountPaid != 4000 || row.BalanceDue != 6000 {
		t.Fatalf("expected amount_paid=4000 balance=6000, got %d/%d", row.AmountPaid, row.BalanceDue)
	}
	if row.PaidAt != nil {
		t.Fatal("expected paid_at unset for partial payment")
	}

	second := paymentEvent("evt_partial_2", paymentdomain.EventTypePaymentSucceeded, 6000, 0)
	if err := svc.ProcessEvent(ctx, second, rawPayload(t, "evt_partial_2")); err != nil {
		t.Fatalf("process second event: %v", err)
	}
	row = loadInvoice(t, db)
	if row.Status != "PAID" || row.BalanceDue != 0 {
		t.Fatalf("expected PAID with zero balance, got %s/%d", row.Status, row.BalanceDue)
	}
}

func TestGratuityDoesNotPayDownBalance(t *testing.T) {
	db := setupTestDB(t)
	seedInvoice(t, db, "SENT", 10000, 0)
	svc := newPaymentService(t, db)
	ctx := context.Background()

	// 10500 charged, 500 of it is a tip.
	event := paymentEvent("evt_tip", paymentdomain.EventTypePaymentSucceeded, 10500, 500)
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_tip")); err != nil {
		t.Fatalf("process event: %v", err)
	}

	row := loadInvoice(t, db)
	if row.Status != "PAID" {
		t.Fatalf("expected PAID, got %s", row.Status)
	}
	if row.AmountPaid != 10000 {
		t.Fatalf("expected amount_paid=10000, got %d", row.AmountPaid)
	}
	if row.GratuityAmount != 500 {
		t.Fatalf("expected gratuity_amount=500, got %d", row.GratuityAmount)
	}
	if row.BalanceDue != 0 {
		t.Fatalf("expected zero balance, got %d", row.BalanceDue)
	}
}

func TestDuplicateEventProcessedOnce(t *testing.T) {
	db := setupTestDB(t)
	seedInvoice(t, db, "SENT", 10000, 0)
	svc := newPaymentService(t, db)
	ctx := context.Background()

	event := paymentEvent("evt_dup", paymentdomain.EventTypePaymentSucceeded, 10000, 0)
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_dup")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	redelivered := paymentEvent("evt_dup", paymentdomain.EventTypePaymentSucceeded, 10000, 0)
	err := svc.ProcessEvent(ctx, redelivered, rawPayload(t, "evt_dup"))
	if !errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}

	row := loadInvoice(t, db)
	if row.AmountPaid != 10000 {
		t.Fatalf("expected single application, amount_paid=%d", row.AmountPaid)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_records`); n != 1 {
		t.Fatalf("expected 1 payment record, got %d", n)
	}
}

func TestFailedEventRecordsFailureOnly(t *testing.T) {
	db := setupTestDB(t)
	seedInvoice(t, db, "SENT", 10000, 0)
	svc := newPaymentService(t, db)
	ctx := context.Background()

	event := paymentEvent("evt_fail", paymentdomain.EventTypePaymentFailed, 10000, 0)
	event.FailureReason = "card_declined"
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_fail")); err != nil {
		t.Fatalf("process failed event: %v", err)
	}

	row := loadInvoice(t, db)
	if row.Status != "SENT" || row.AmountPaid != 0 {
		t.Fatalf("expected invoice untouched, got %s/%d", row.Status, row.AmountPaid)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_records WHERE status = 'failed' AND failure_reason = 'card_declined'`); n != 1 {
		t.Fatalf("expected 1 failed record, got %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM outbound_events WHERE event_type = 'payment.failed'`); n != 1 {
		t.Fatalf("expected 1 payment.failed event, got %d", n)
	}
}

func TestPaymentForVoidInvoiceRecordedWithoutSettlement(t *testing.T) {
	db := setupTestDB(t)
	seedInvoice(t, db, "VOID", 10000, 0)
	svc := newPaymentService(t, db)
	ctx := context.Background()

	event := paymentEvent("evt_void", paymentdomain.EventTypePaymentSucceeded, 10000, 0)
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_void")); err != nil {
		t.Fatalf("process event: %v", err)
	}

	row := loadInvoice(t, db)
	if row.Status != "VOID" || row.AmountPaid != 0 {
		t.Fatalf("expected void invoice untouched, got %s/%d", row.Status, row.AmountPaid)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_records WHERE status = 'succeeded'`); n != 1 {
		t.Fatalf("expected payment still recorded, got %d records", n)
	}
}

func seedCheckoutSession(t *testing.T, db *gorm.DB, id int64, invoiceID *int64, leadID, reference string) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO checkout_sessions (
			id, org_id, invoice_id, lead_id, provider, client_reference,
			amount, currency, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, 'stripe', ?, 10000, 'USD', 'open', ?, ?)`,
		id, testOrgID, invoiceID, leadID, reference,
		time.Now().UTC(), time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed checkout session: %v", err)
	}
}

func sessionStatus(t *testing.T, db *gorm.DB, id int64) string {
	t.Helper()
	var status string
	if err := db.Raw(`SELECT status FROM checkout_sessions WHERE id = ?`, id).Scan(&status).Error; err != nil {
		t.Fatalf("load session status: %v", err)
	}
	return status
}

func TestSettledInvoiceNotRecredited(t *testing.T) {
	db := setupTestDB(t)
	seedInvoice(t, db, "PAID", 11000, 11000)
	svc := newPaymentService(t, db)
	ctx := context.Background()

	event := paymentEvent("evt_surplus", paymentdomain.EventTypePaymentSucceeded, 11000, 0)
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_surplus")); err != nil {
		t.Fatalf("process event: %v", err)
	}

	row := loadInvoice(t, db)
	if row.Status != "PAID" {
		t.Fatalf("expected status PAID, got %s", row.Status)
	}
	if row.AmountPaid != 11000 || row.BalanceDue != 0 {
		t.Fatalf("expected settled invoice untouched, got paid=%d balance=%d", row.AmountPaid, row.BalanceDue)
	}

	// The surplus still shows up on the ledger and the event is consumed.
	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_records WHERE status = 'succeeded'`); n != 1 {
		t.Fatalf("expected surplus recorded, got %d records", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`); n != 1 {
		t.Fatalf("expected event marked processed, got %d", n)
	}
}

func TestQuotePaymentRecordsLeadAndCompletesSession(t *testing.T) {
	db := setupTestDB(t)
	seedCheckoutSession(t, db, 6001, nil, "lead_77", "cs_quote_ref")
	svc := newPaymentService(t, db)
	ctx := context.Background()

	event := paymentEvent("evt_quote", paymentdomain.EventTypePaymentSucceeded, 10500, 500)
	event.InvoiceID = 0
	event.LeadID = "lead_77"
	event.ClientReference = "cs_quote_ref"
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_quote")); err != nil {
		t.Fatalf("process quote event: %v", err)
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_records WHERE lead_id = 'lead_77' AND invoice_id IS NULL AND status = 'succeeded' AND amount = 10000 AND gratuity_amount = 500`); n != 1 {
		t.Fatalf("expected lead-linked payment record, got %d", n)
	}
	if got := sessionStatus(t, db, 6001); got != "completed" {
		t.Fatalf("expected session completed, got %s", got)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_events WHERE lead_id = 'lead_77' AND processed_at IS NOT NULL`); n != 1 {
		t.Fatalf("expected lead event processed, got %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM outbound_events WHERE event_type = 'payment.confirmed'`); n != 1 {
		t.Fatalf("expected payment.confirmed event, got %d", n)
	}

	// Redelivery settles nothing twice.
	redelivered := paymentEvent("evt_quote", paymentdomain.EventTypePaymentSucceeded, 10500, 500)
	redelivered.InvoiceID = 0
	redelivered.LeadID = "lead_77"
	redelivered.ClientReference = "cs_quote_ref"
	if err := svc.ProcessEvent(ctx, redelivered, rawPayload(t, "evt_quote")); !errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) {
		t.Fatalf("expected ErrEventAlreadyProcessed, got %v", err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_records`); n != 1 {
		t.Fatalf("expected single lead record, got %d", n)
	}
}

func TestInvoicePaymentCompletesSession(t *testing.T) {
	db := setupTestDB(t)
	seedInvoice(t, db, "SENT", 10000, 0)
	invoiceID := testInvoiceID
	seedCheckoutSession(t, db, 6002, &invoiceID, "", "cs_invoice_ref")
	svc := newPaymentService(t, db)
	ctx := context.Background()

	event := paymentEvent("evt_session", paymentdomain.EventTypePaymentSucceeded, 10000, 0)
	event.ClientReference = "cs_invoice_ref"
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_session")); err != nil {
		t.Fatalf("process event: %v", err)
	}

	if got := sessionStatus(t, db, 6002); got != "completed" {
		t.Fatalf("expected session completed, got %s", got)
	}
	if row := loadInvoice(t, db); row.Status != "PAID" {
		t.Fatalf("expected PAID, got %s", row.Status)
	}
}

func TestUnknownInvoiceAcknowledged(t *testing.T) {
	db := setupTestDB(t)
	svc := newPaymentService(t, db)
	ctx := context.Background()

	event := paymentEvent("evt_unknown", paymentdomain.EventTypePaymentSucceeded, 5000, 0)
	if err := svc.ProcessEvent(ctx, event, rawPayload(t, "evt_unknown")); err != nil {
		t.Fatalf("expected unknown invoice acknowledged, got %v", err)
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`); n != 1 {
		t.Fatalf("expected event marked processed, got %d", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM payment_records`); n != 0 {
		t.Fatalf("expected no payment records, got %d", n)
	}
}

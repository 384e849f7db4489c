package notification_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/internal/clock"
	"github.com/smallbiznis/paylink/internal/config"
	eventdomain "github.com/smallbiznis/paylink/internal/event/domain"
	"github.com/smallbiznis/paylink/internal/notification"
	"github.com/smallbiznis/paylink/internal/providers/pdf"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type sentMail struct {
	to         []string
	subject    string
	body       string
	filename   string
	attachment []byte
}

type fakeEmail struct {
	sent []sentMail
}

func (f *fakeEmail) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func (f *fakeEmail) SendWithAttachment(ctx context.Context, to []string, subject string, htmlBody string, filename string, attachment []byte) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: htmlBody, filename: filename, attachment: attachment})
	return nil
}

type renderSpy struct {
	inner pdf.Renderer
	last  pdf.Document
}

func (r *renderSpy) RenderInvoice(ctx context.Context, doc pdf.Document) ([]byte, error) {
	r.last = doc
	return r.inner.RenderInvoice(ctx, doc)
}

func (r *renderSpy) RenderReceipt(ctx context.Context, doc pdf.Document) ([]byte, error) {
	r.last = doc
	return r.inner.RenderReceipt(ctx, doc)
}

const (
	testOrgID     = int64(7001)
	testContactID = int64(8001)
	testInvoiceID = int64(9001)
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_notification_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE organizations (id BIGINT PRIMARY KEY, name TEXT NOT NULL, currency_code TEXT NOT NULL)`,
		`CREATE TABLE contacts (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL
		)`,
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			contact_id BIGINT NOT NULL,
			invoice_number TEXT,
			status TEXT NOT NULL DEFAULT 'SENT',
			currency TEXT NOT NULL DEFAULT 'USD',
			subtotal_amount BIGINT NOT NULL DEFAULT 0,
			tax_amount BIGINT NOT NULL DEFAULT 0,
			discount_amount BIGINT NOT NULL DEFAULT 0,
			gratuity_amount BIGINT NOT NULL DEFAULT 0,
			total_amount BIGINT NOT NULL DEFAULT 0,
			amount_paid BIGINT NOT NULL DEFAULT 0,
			balance_due BIGINT NOT NULL DEFAULT 0,
			payment_token TEXT,
			notes TEXT,
			issued_at TIMESTAMP,
			due_date TIMESTAMP
		)`,
		`CREATE TABLE invoice_items (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			invoice_id BIGINT NOT NULL,
			description TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			unit_amount BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	seed := []string{
		fmt.Sprintf(`INSERT INTO organizations (id, name, currency_code) VALUES (%d, 'Acme Plumbing', 'USD')`, testOrgID),
		fmt.Sprintf(`INSERT INTO contacts (id, org_id, first_name, last_name, email) VALUES (%d, %d, 'Ada', 'Lovelace', 'ada@example.com')`, testContactID, testOrgID),
		fmt.Sprintf(`INSERT INTO invoices (
			id, org_id, contact_id, invoice_number, status, currency,
			subtotal_amount, tax_amount, total_amount, balance_due,
			payment_token, issued_at, due_date
		) VALUES (%d, %d, %d, 'INV-202608-001', 'SENT', 'USD',
			10000, 1000, 11000, 11000,
			'tok_abc123', '2026-08-20 10:00:00', '2026-09-03 10:00:00')`,
			testInvoiceID, testOrgID, testContactID),
		fmt.Sprintf(`INSERT INTO invoice_items (id, org_id, invoice_id, description, quantity, unit_amount, amount, position)
			VALUES (1, %d, %d, 'Consulting', 2, 5000, 10000, 0)`, testOrgID, testInvoiceID),
	}
	for _, stmt := range seed {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	return db
}

func newSink(t *testing.T) (*notification.Sink, *fakeEmail, *renderSpy) {
	db := setupTestDB(t)
	mail := &fakeEmail{}
	spy := &renderSpy{inner: pdf.New()}
	sink := notification.New(notification.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2026, time.August, 20, 10, 0, 0, 0, time.UTC)),
		Cfg:   config.Config{PublicBaseURL: "https://pay.example.com"},
		Email: mail,
		Pdf:   spy,
	})
	return sink, mail, spy
}

func outboundEvent(eventType string, payload map[string]any) eventdomain.OutboundEvent {
	return eventdomain.OutboundEvent{
		ID:        snowflake.ID(1),
		OrgID:     snowflake.ID(testOrgID),
		EventType: eventType,
		Payload:   datatypes.JSONMap(payload),
	}
}

func TestInvoiceIssuedEmail(t *testing.T) {
	sink, mail, spy := newSink(t)

	err := sink.Deliver(context.Background(), outboundEvent(eventdomain.TopicInvoiceIssued, map[string]any{
		"invoice_id":     snowflake.ID(testInvoiceID).String(),
		"invoice_number": "INV-202608-001",
		"total_amount":   float64(11000),
		"currency":       "USD",
	}))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(mail.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(mail.sent))
	}
	msg := mail.sent[0]
	if msg.to[0] != "ada@example.com" {
		t.Fatalf("unexpected recipient: %v", msg.to)
	}
	if !strings.Contains(msg.subject, "INV-202608-001") || !strings.Contains(msg.subject, "Acme Plumbing") {
		t.Fatalf("unexpected subject: %s", msg.subject)
	}
	if !strings.Contains(msg.body, "USD 110.00") {
		t.Fatalf("expected formatted amount in body: %s", msg.body)
	}
	wantURL := fmt.Sprintf("https://pay.example.com/public/orgs/%s/invoice?token=tok_abc123", snowflake.ID(testOrgID))
	if !strings.Contains(msg.body, wantURL) {
		t.Fatalf("expected pay link %s in body: %s", wantURL, msg.body)
	}
	if msg.filename != "inv-202608-001.pdf" {
		t.Fatalf("unexpected attachment name: %s", msg.filename)
	}
	if !bytes.HasPrefix(msg.attachment, []byte("%PDF")) {
		t.Fatal("expected pdf attachment")
	}
	if spy.last.PayURL != wantURL {
		t.Fatalf("expected pay link %q on rendered invoice, got %q", wantURL, spy.last.PayURL)
	}
	if len(spy.last.Lines) != 1 || spy.last.Lines[0].Description != "Consulting" {
		t.Fatalf("expected invoice lines on attachment, got %+v", spy.last.Lines)
	}
}

func TestPaymentConfirmedEmailAttachesReceipt(t *testing.T) {
	sink, mail, _ := newSink(t)

	err := sink.Deliver(context.Background(), outboundEvent(eventdomain.TopicPaymentConfirmed, map[string]any{
		"invoice_id":     snowflake.ID(testInvoiceID).String(),
		"invoice_number": "INV-202608-001",
		"amount":         float64(4000),
		"balance_due":    float64(7000),
		"currency":       "USD",
	}))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(mail.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(mail.sent))
	}
	msg := mail.sent[0]
	if !strings.Contains(msg.body, "USD 40.00") {
		t.Fatalf("expected paid amount in body: %s", msg.body)
	}
	if !strings.Contains(msg.body, "USD 70.00") {
		t.Fatalf("expected remaining balance in body: %s", msg.body)
	}
	if msg.filename != "receipt-inv-202608-001.pdf" {
		t.Fatalf("unexpected attachment name: %s", msg.filename)
	}
	if !bytes.HasPrefix(msg.attachment, []byte("%PDF")) {
		t.Fatal("expected pdf attachment")
	}
}

func TestUnroutableEventDropped(t *testing.T) {
	sink, mail, _ := newSink(t)

	err := sink.Deliver(context.Background(), outboundEvent(eventdomain.TopicInvoiceIssued, map[string]any{
		"invoice_id": snowflake.ID(424242).String(),
	}))
	if err != nil {
		t.Fatalf("expected drop without error, got %v", err)
	}
	if len(mail.sent) != 0 {
		t.Fatalf("expected no email, got %d", len(mail.sent))
	}
}

func TestUnknownTopicIgnored(t *testing.T) {
	sink, mail, _ := newSink(t)

	if err := sink.Deliver(context.Background(), outboundEvent("billing.cycle.closed", nil)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(mail.sent) != 0 {
		t.Fatalf("expected no email, got %d", len(mail.sent))
	}
}

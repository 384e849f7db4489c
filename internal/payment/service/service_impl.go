package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paylink/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/paylink/internal/checkout/domain"
	"github.com/smallbiznis/paylink/internal/clock"
	eventdomain "github.com/smallbiznis/paylink/internal/event/domain"
	invoicedomain "github.com/smallbiznis/paylink/internal/invoice/domain"
	"github.com/smallbiznis/paylink/internal/invoice/totals"
	ledgerdomain "github.com/smallbiznis/paylink/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/paylink/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	LedgerSvc ledgerdomain.Service
	AuditSvc  auditdomain.Service
	Repo      paymentdomain.Repository
	Publisher eventdomain.Publisher
}

// Service reconciles parsed provider events against invoices. Every event
// is recorded exactly once; settlement happens inside one transaction with
// the invoice row locked.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	ledgerSvc ledgerdomain.Service
	auditSvc  auditdomain.Service
	repo      paymentdomain.Repository
	publisher eventdomain.Publisher
}

func NewService(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		ledgerSvc: p.LedgerSvc,
		auditSvc:  p.AuditSvc,
		repo:      p.Repo,
		publisher: p.Publisher,
	}
}

func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	if err := validateEvent(event); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	var invoiceID *snowflake.ID
	if event.InvoiceID != 0 {
		invoiceID = &event.InvoiceID
	}
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		OrgID:           event.OrgID,
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		InvoiceID:       invoiceID,
		LeadID:          event.LeadID,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}

	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		if event.InvoiceID == 0 {
			return s.settleLeadPayment(ctx, stored, event, now)
		}
		return s.settlePayment(ctx, stored, event, now)
	case paymentdomain.EventTypePaymentFailed:
		return s.recordFailure(ctx, stored, event, now)
	default:
		return paymentdomain.ErrInvalidEvent
	}
}

func validateEvent(event *paymentdomain.PaymentEvent) error {
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.LeadID = strings.TrimSpace(event.LeadID)
	if event.OrgID == 0 {
		return paymentdomain.ErrInvalidEvent
	}
	if event.InvoiceID == 0 && event.LeadID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	currency := strings.TrimSpace(event.Currency)
	if currency == "" {
		return paymentdomain.ErrInvalidCurrency
	}
	event.Currency = strings.ToUpper(currency)
	if event.OccurredAt.IsZero() {
		return paymentdomain.ErrInvalidEvent
	}
	if event.GratuityAmount < 0 || event.GratuityAmount > event.Amount {
		return paymentdomain.ErrInvalidAmount
	}
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		// Zero is legal: free orders settle through the same path.
		if event.Amount < 0 {
			return paymentdomain.ErrInvalidAmount
		}
	case paymentdomain.EventTypePaymentFailed:
		if event.Amount < 0 {
			return paymentdomain.ErrInvalidAmount
		}
	default:
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) settlePayment(
	ctx context.Context,
	stored *paymentdomain.EventRecord,
	event *paymentdomain.PaymentEvent,
	now time.Time,
) error {
	var settled *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadInvoiceForUpdate(ctx, tx, stored.OrgID, event.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			s.log.Warn("payment event references unknown invoice",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
				zap.String("invoice_id", event.InvoiceID.String()))
			return s.repo.MarkProcessed(ctx, tx, stored.ID, now)
		}

		// The charged total may include a tip; only the remainder pays
		// down the invoice.
		applied := event.Amount - event.GratuityAmount

		switch invoice.Status {
		case invoicedomain.InvoiceStatusVoid:
			s.log.Warn("payment received for void invoice",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("provider_event_id", event.ProviderEventID))
		case invoicedomain.InvoiceStatusPaid:
			// Financial fields freeze once the invoice settles. The surplus
			// still lands on the ledger below, it just never re-credits the
			// invoice.
			s.log.Warn("payment received for settled invoice",
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("provider_event_id", event.ProviderEventID),
				zap.Int64("amount", event.Amount))
		default:
			invoice.AmountPaid += applied
			invoice.GratuityAmount += event.GratuityAmount
			invoice.BalanceDue = totals.BalanceDue(invoice.TotalAmount, invoice.AmountPaid)

			if invoice.BalanceDue == 0 {
				invoice.Status = invoicedomain.InvoiceStatusPaid
				paidAt := now
				invoice.PaidAt = &paidAt
			} else {
				invoice.Status = invoicedomain.InvoiceStatusPartial
			}

			if err := tx.WithContext(ctx).Exec(
				`UPDATE invoices
				 SET status = ?, amount_paid = ?, gratuity_amount = ?, balance_due = ?,
				     paid_at = ?, updated_at = ?
				 WHERE id = ? AND org_id = ?`,
				string(invoice.Status),
				invoice.AmountPaid,
				invoice.GratuityAmount,
				invoice.BalanceDue,
				invoice.PaidAt,
				now,
				invoice.ID,
				invoice.OrgID,
			).Error; err != nil {
				return err
			}
		}

		s.completeCheckoutSession(ctx, tx, event, now)

		if _, err := s.ledgerSvc.Append(ctx, tx, ledgerdomain.AppendRecordInput{
			OrgID:             stored.OrgID,
			InvoiceID:         invoice.ID,
			Provider:          event.Provider,
			ProviderPaymentID: event.ProviderPaymentID,
			Status:            ledgerdomain.PaymentRecordStatusSucceeded,
			Amount:            applied,
			GratuityAmount:    event.GratuityAmount,
			Currency:          event.Currency,
			OccurredAt:        event.OccurredAt,
		}); err != nil {
			return err
		}

		payload := map[string]any{
			"invoice_id":          invoice.ID.String(),
			"invoice_number":      invoice.InvoiceNumber,
			"contact_id":          invoice.ContactID.String(),
			"provider":            event.Provider,
			"provider_payment_id": event.ProviderPaymentID,
			"amount":              applied,
			"gratuity_amount":     event.GratuityAmount,
			"currency":            event.Currency,
			"status":              string(invoice.Status),
			"balance_due":         invoice.BalanceDue,
		}
		if err := s.publisher.WithTx(tx).Publish(
			ctx,
			stored.OrgID,
			eventdomain.TopicPaymentConfirmed,
			payload,
			"payment.confirmed:"+event.ProviderEventID,
		); err != nil {
			return err
		}

		if err := s.repo.MarkProcessed(ctx, tx, stored.ID, now); err != nil {
			return err
		}

		settled = invoice
		return nil
	})
	if err != nil {
		return err
	}
	if settled == nil {
		return nil
	}

	s.writeAuditLog(ctx, "payment.received", stored, event, map[string]any{
		"invoice_status": string(settled.Status),
		"balance_due":    settled.BalanceDue,
	})
	return nil
}

// settleLeadPayment records a succeeded quote payment. There is no invoice
// to credit; the ledger row against the lead and the completed session are
// the durable outcome.
func (s *Service) settleLeadPayment(
	ctx context.Context,
	stored *paymentdomain.EventRecord,
	event *paymentdomain.PaymentEvent,
	now time.Time,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledgerSvc.Append(ctx, tx, ledgerdomain.AppendRecordInput{
			OrgID:             stored.OrgID,
			LeadID:            event.LeadID,
			Provider:          event.Provider,
			ProviderPaymentID: event.ProviderPaymentID,
			Status:            ledgerdomain.PaymentRecordStatusSucceeded,
			Amount:            event.Amount - event.GratuityAmount,
			GratuityAmount:    event.GratuityAmount,
			Currency:          event.Currency,
			OccurredAt:        event.OccurredAt,
		}); err != nil {
			return err
		}

		s.completeCheckoutSession(ctx, tx, event, now)

		payload := map[string]any{
			"lead_id":             event.LeadID,
			"provider":            event.Provider,
			"provider_payment_id": event.ProviderPaymentID,
			"amount":              event.Amount - event.GratuityAmount,
			"gratuity_amount":     event.GratuityAmount,
			"currency":            event.Currency,
		}
		if err := s.publisher.WithTx(tx).Publish(
			ctx,
			stored.OrgID,
			eventdomain.TopicPaymentConfirmed,
			payload,
			"payment.confirmed:"+event.ProviderEventID,
		); err != nil {
			return err
		}

		return s.repo.MarkProcessed(ctx, tx, stored.ID, now)
	})
	if err != nil {
		return err
	}

	s.writeAuditLog(ctx, "payment.received", stored, event, map[string]any{
		"lead_id": event.LeadID,
	})
	return nil
}

// completeCheckoutSession closes the open session this payment came from,
// matching on the echoed client reference when present. Session bookkeeping
// never fails a settlement.
func (s *Service) completeCheckoutSession(ctx context.Context, tx *gorm.DB, event *paymentdomain.PaymentEvent, now time.Time) {
	completed := string(checkoutdomain.SessionStatusCompleted)
	open := string(checkoutdomain.SessionStatusOpen)

	var err error
	switch {
	case event.ClientReference != "":
		err = tx.WithContext(ctx).Exec(
			`UPDATE checkout_sessions
			 SET status = ?, updated_at = ?
			 WHERE org_id = ? AND client_reference = ? AND status = ?`,
			completed, now, event.OrgID, event.ClientReference, open,
		).Error
	case event.InvoiceID != 0:
		err = tx.WithContext(ctx).Exec(
			`UPDATE checkout_sessions
			 SET status = ?, updated_at = ?
			 WHERE org_id = ? AND invoice_id = ? AND status = ?`,
			completed, now, event.OrgID, event.InvoiceID, open,
		).Error
	case event.LeadID != "":
		err = tx.WithContext(ctx).Exec(
			`UPDATE checkout_sessions
			 SET status = ?, updated_at = ?
			 WHERE org_id = ? AND lead_id = ? AND status = ?`,
			completed, now, event.OrgID, event.LeadID, open,
		).Error
	}
	if err != nil {
		s.log.Warn("failed to complete checkout session",
			zap.Error(err),
			zap.String("provider_event_id", event.ProviderEventID))
	}
}

func (s *Service) recordFailure(
	ctx context.Context,
	stored *paymentdomain.EventRecord,
	event *paymentdomain.PaymentEvent,
	now time.Time,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledgerSvc.Append(ctx, tx, ledgerdomain.AppendRecordInput{
			OrgID:             stored.OrgID,
			InvoiceID:         event.InvoiceID,
			LeadID:            event.LeadID,
			Provider:          event.Provider,
			ProviderPaymentID: event.ProviderPaymentID,
			Status:            ledgerdomain.PaymentRecordStatusFailed,
			Amount:            event.Amount,
			Currency:          event.Currency,
			FailureReason:     event.FailureReason,
			OccurredAt:        event.OccurredAt,
		}); err != nil {
			return err
		}

		payload := map[string]any{
			"provider":            event.Provider,
			"provider_payment_id": event.ProviderPaymentID,
			"amount":              event.Amount,
			"currency":            event.Currency,
			"failure_reason":      event.FailureReason,
		}
		if event.InvoiceID != 0 {
			payload["invoice_id"] = event.InvoiceID.String()
		}
		if event.LeadID != "" {
			payload["lead_id"] = event.LeadID
		}
		if err := s.publisher.WithTx(tx).Publish(
			ctx,
			stored.OrgID,
			eventdomain.TopicPaymentFailed,
			payload,
			"payment.failed:"+event.ProviderEventID,
		); err != nil {
			return err
		}

		return s.repo.MarkProcessed(ctx, tx, stored.ID, now)
	})
	if err != nil {
		return err
	}

	s.writeAuditLog(ctx, "payment.failed", stored, event, map[string]any{
		"failure_reason": event.FailureReason,
	})
	return nil
}

func (s *Service) loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	stmt := `SELECT id, org_id, contact_id, invoice_number, status, currency,
	                subtotal_amount, tax_amount, discount_amount, gratuity_amount,
	                total_amount, amount_paid, balance_due, paid_at
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

func (s *Service) writeAuditLog(ctx context.Context, action string, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent, extra map[string]any) {
	if s.auditSvc == nil {
		return
	}
	metadata := map[string]any{
		"provider":            stored.Provider,
		"provider_event_id":   stored.ProviderEventID,
		"provider_payment_id": event.ProviderPaymentID,
		"amount":              event.Amount,
		"gratuity_amount":     event.GratuityAmount,
		"currency":            event.Currency,
		"event_type":          stored.EventType,
		"occurred_at":         event.OccurredAt.UTC().Format(time.RFC3339),
	}
	if event.InvoiceID != 0 {
		metadata["invoice_id"] = event.InvoiceID.String()
	}
	if event.LeadID != "" {
		metadata["lead_id"] = event.LeadID
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := stored.ID.String()
	orgID := stored.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "system", nil, action, "payment_event", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/paylink/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/paylink/internal/checkout/domain"
	"github.com/smallbiznis/paylink/internal/clock"
	"github.com/smallbiznis/paylink/internal/config"
	contactdomain "github.com/smallbiznis/paylink/internal/contact/domain"
	invoicedomain "github.com/smallbiznis/paylink/internal/invoice/domain"
	"github.com/smallbiznis/paylink/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/paylink/internal/payment/domain"
	paymentservice "github.com/smallbiznis/paylink/internal/payment/service"
	vaultdomain "github.com/smallbiznis/paylink/internal/vault/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// amountTolerance is the largest caller/server difference accepted before
// rejecting the checkout, in minor units.
const amountTolerance = int64(1)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	InvoiceSvc invoicedomain.Service
	ContactSvc contactdomain.Service
	PaymentSvc *paymentservice.Service
	AuditSvc   auditdomain.Service
	Vault      vaultdomain.Service    `optional:"true"`
	Gateway    checkoutdomain.Gateway `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	invoiceSvc invoicedomain.Service
	contactSvc contactdomain.Service
	paymentSvc *paymentservice.Service
	auditSvc   auditdomain.Service
	vault      vaultdomain.Service
	gateway    checkoutdomain.Gateway
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("checkout.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Cfg,
		invoiceSvc: p.InvoiceSvc,
		contactSvc: p.ContactSvc,
		paymentSvc: p.PaymentSvc,
		auditSvc:   p.AuditSvc,
		vault:      p.Vault,
		gateway:    p.Gateway,
	}
}

func (s *Service) Checkout(ctx context.Context, req checkoutdomain.Request) (*checkoutdomain.Result, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, checkoutdomain.ErrInvalidRequest
	}

	switch typed := req.(type) {
	case checkoutdomain.InvoiceCheckout:
		return s.checkoutInvoice(ctx, orgID, typed)
	case checkoutdomain.QuoteCheckout:
		return s.checkoutQuote(ctx, orgID, typed)
	default:
		return nil, checkoutdomain.ErrInvalidRequest
	}
}

func (s *Service) checkoutInvoice(ctx context.Context, orgID snowflake.ID, req checkoutdomain.InvoiceCheckout) (*checkoutdomain.Result, error) {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil || invoiceID == 0 {
		return nil, checkoutdomain.ErrInvalidRequest
	}
	if req.GratuityAmount < 0 || req.Amount < 0 {
		return nil, checkoutdomain.ErrInvalidAmount
	}

	invoice, err := s.invoiceSvc.GetForOrg(ctx, orgID, invoiceID)
	if err != nil {
		if err == invoicedomain.ErrInvoiceNotFound {
			return nil, checkoutdomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	if !invoice.Payable() {
		return nil, checkoutdomain.ErrInvoiceNotPayable
	}

	expected := invoice.BalanceDue + req.GratuityAmount
	if absDiff(req.Amount, expected) > amountTolerance {
		s.log.Warn("checkout amount mismatch",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Int64("caller_amount", req.Amount),
			zap.Int64("expected_amount", expected))
		return nil, checkoutdomain.ErrAmountMismatch
	}

	reference := newSessionReference()

	if invoice.BalanceDue == 0 && req.GratuityAmount == 0 {
		return s.settleFreeOrder(ctx, orgID, &invoice, reference)
	}

	if s.gateway == nil {
		return nil, checkoutdomain.ErrGatewayUnavailable
	}

	number := ""
	if invoice.InvoiceNumber != nil {
		number = *invoice.InvoiceNumber
	}
	lines := []checkoutdomain.SessionLine{{
		Description: fmt.Sprintf("Invoice %s", number),
		Amount:      invoice.BalanceDue,
		Quantity:    1,
	}}
	if req.GratuityAmount > 0 {
		lines = append(lines, checkoutdomain.SessionLine{Description: "Gratuity", Amount: req.GratuityAmount, Quantity: 1})
	}

	metadata := map[string]string{
		"org_id":           orgID.String(),
		"invoice_id":       invoice.ID.String(),
		"contact_id":       invoice.ContactID.String(),
		"gratuity_amount":  fmt.Sprintf("%d", req.GratuityAmount),
		"client_reference": reference,
	}

	customerID, customerEmail := s.resolveCustomer(ctx, orgID, invoice.ContactID)

	session := &checkoutdomain.CheckoutSession{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		InvoiceID:       &invoice.ID,
		Provider:        "stripe",
		ClientReference: reference,
		Amount:          req.Amount,
		GratuityAmount:  req.GratuityAmount,
		Currency:        invoice.Currency,
		Status:          checkoutdomain.SessionStatusOpen,
	}
	if err := s.insertSession(ctx, session); err != nil {
		return nil, err
	}

	payURL := s.publicPayURL(orgID, invoice.PaymentToken)
	gatewaySession, err := s.gateway.CreateCheckoutSession(ctx, checkoutdomain.CreateSessionInput{
		Reference:        reference,
		Currency:         invoice.Currency,
		Lines:            lines,
		Metadata:         metadata,
		CustomerID:       customerID,
		CustomerEmail:    customerEmail,
		SuccessURL:       payURL,
		CancelURL:        payURL,
		SetupFutureUsage: customerID != "",
	})
	if err != nil {
		s.markSession(ctx, session.ID, checkoutdomain.SessionStatusExpired, "")
		s.log.Error("gateway checkout session failed", zap.Error(err), zap.String("invoice_id", invoice.ID.String()))
		return nil, checkoutdomain.ErrGatewayUnavailable
	}
	s.markSession(ctx, session.ID, checkoutdomain.SessionStatusOpen, gatewaySession.ID)

	s.emitAudit(ctx, orgID, "checkout.created", session.ID.String(), map[string]any{
		"invoice_id":          invoice.ID.String(),
		"amount":              req.Amount,
		"gratuity_amount":     req.GratuityAmount,
		"provider_session_id": gatewaySession.ID,
	})

	return &checkoutdomain.Result{
		SessionID:         session.ID,
		ProviderSessionID: gatewaySession.ID,
		URL:               gatewaySession.URL,
	}, nil
}

func (s *Service) checkoutQuote(ctx context.Context, orgID snowflake.ID, req checkoutdomain.QuoteCheckout) (*checkoutdomain.Result, error) {
	leadID := strings.TrimSpace(req.LeadID)
	if leadID == "" {
		return nil, checkoutdomain.ErrInvalidRequest
	}
	if req.Amount < 0 || req.GratuityAmount < 0 || req.GratuityAmount > req.Amount {
		return nil, checkoutdomain.ErrInvalidAmount
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.loadOrgCurrency(ctx, orgID)
	}
	if currency == "" {
		return nil, checkoutdomain.ErrInvalidRequest
	}

	reference := newSessionReference()

	if req.Amount == 0 {
		session := &checkoutdomain.CheckoutSession{
			ID:              s.genID.Generate(),
			OrgID:           orgID,
			LeadID:          leadID,
			Provider:        "internal",
			ClientReference: reference,
			Currency:        currency,
			Status:          checkoutdomain.SessionStatusBypassed,
		}
		if err := s.insertSession(ctx, session); err != nil {
			return nil, err
		}
		return &checkoutdomain.Result{SessionID: session.ID, IsFreeOrder: true}, nil
	}

	if s.gateway == nil {
		return nil, checkoutdomain.ErrGatewayUnavailable
	}

	base := req.Amount - req.GratuityAmount
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = fmt.Sprintf("Quote %s", leadID)
	}
	lines := []checkoutdomain.SessionLine{{Description: description, Amount: base, Quantity: 1}}
	if req.GratuityAmount > 0 {
		lines = append(lines, checkoutdomain.SessionLine{Description: "Gratuity", Amount: req.GratuityAmount, Quantity: 1})
	}

	metadata := map[string]string{
		"org_id":           orgID.String(),
		"lead_id":          leadID,
		"gratuity_amount":  fmt.Sprintf("%d", req.GratuityAmount),
		"gratuity_type":    strings.TrimSpace(req.GratuityType),
		"client_reference": reference,
	}

	session := &checkoutdomain.CheckoutSession{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		LeadID:          leadID,
		Provider:        "stripe",
		ClientReference: reference,
		Amount:          req.Amount,
		GratuityAmount:  req.GratuityAmount,
		Currency:        currency,
		Status:          checkoutdomain.SessionStatusOpen,
	}
	if err := s.insertSession(ctx, session); err != nil {
		return nil, err
	}

	gatewaySession, err := s.gateway.CreateCheckoutSession(ctx, checkoutdomain.CreateSessionInput{
		Reference:  reference,
		Currency:   currency,
		Lines:      lines,
		Metadata:   metadata,
		SuccessURL: s.cfg.PublicBaseURL,
		CancelURL:  s.cfg.PublicBaseURL,
	})
	if err != nil {
		s.markSession(ctx, session.ID, checkoutdomain.SessionStatusExpired, "")
		s.log.Error("gateway checkout session failed", zap.Error(err), zap.String("lead_id", leadID))
		return nil, checkoutdomain.ErrGatewayUnavailable
	}
	s.markSession(ctx, session.ID, checkoutdomain.SessionStatusOpen, gatewaySession.ID)

	s.emitAudit(ctx, orgID, "checkout.created", session.ID.String(), map[string]any{
		"lead_id":             leadID,
		"amount":              req.Amount,
		"gratuity_amount":     req.GratuityAmount,
		"provider_session_id": gatewaySession.ID,
	})

	return &checkoutdomain.Result{
		SessionID:         session.ID,
		ProviderSessionID: gatewaySession.ID,
		URL:               gatewaySession.URL,
	}, nil
}

func (s *Service) ChargeSavedPaymentMethod(ctx context.Context, req checkoutdomain.ChargeSavedPaymentMethodRequest) (*checkoutdomain.ChargeResult, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, checkoutdomain.ErrInvalidRequest
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil || invoiceID == 0 {
		return nil, checkoutdomain.ErrInvalidRequest
	}
	if req.Amount <= 0 {
		return nil, checkoutdomain.ErrInvalidAmount
	}

	invoice, err := s.invoiceSvc.GetForOrg(ctx, orgID, invoiceID)
	if err != nil {
		if err == invoicedomain.ErrInvoiceNotFound {
			return nil, checkoutdomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	if !invoice.Payable() || invoice.BalanceDue == 0 {
		return nil, checkoutdomain.ErrInvoiceNotPayable
	}
	if absDiff(req.Amount, invoice.BalanceDue) > amountTolerance {
		return nil, checkoutdomain.ErrAmountMismatch
	}

	if s.vault == nil || s.gateway == nil {
		return nil, checkoutdomain.ErrNoSavedPaymentMethod
	}
	customer, err := s.vault.FindCustomer(ctx, orgID, invoice.ContactID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, checkoutdomain.ErrNoSavedPaymentMethod
	}

	providerPaymentID, err := s.gateway.CreateOffSessionCharge(ctx, checkoutdomain.OffSessionChargeInput{
		CustomerID: customer.ProviderCustomerID,
		Amount:     req.Amount,
		Currency:   invoice.Currency,
		Metadata: map[string]string{
			"org_id":     orgID.String(),
			"invoice_id": invoice.ID.String(),
			"contact_id": invoice.ContactID.String(),
		},
	})
	if err != nil {
		s.log.Error("off-session charge failed", zap.Error(err), zap.String("invoice_id", invoice.ID.String()))
		return nil, checkoutdomain.ErrGatewayUnavailable
	}

	s.emitAudit(ctx, orgID, "payment_method.charged", invoice.ID.String(), map[string]any{
		"invoice_id":          invoice.ID.String(),
		"amount":              req.Amount,
		"provider_payment_id": providerPaymentID,
	})

	// Settlement arrives through the webhook like any other payment.
	return &checkoutdomain.ChargeResult{
		ProviderPaymentID: providerPaymentID,
		Status:            "pending",
	}, nil
}

// settleFreeOrder pushes a synthetic zero-amount event through the
// reconciler so free orders produce the same records as paid ones.
func (s *Service) settleFreeOrder(ctx context.Context, orgID snowflake.ID, invoice *invoicedomain.Invoice, reference string) (*checkoutdomain.Result, error) {
	session := &checkoutdomain.CheckoutSession{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		InvoiceID:       &invoice.ID,
		Provider:        "internal",
		ClientReference: reference,
		Currency:        invoice.Currency,
		Status:          checkoutdomain.SessionStatusBypassed,
	}
	if err := s.insertSession(ctx, session); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]any{
		"source":           "checkout.free_order",
		"client_reference": reference,
		"invoice_id":       invoice.ID.String(),
	})
	event := &paymentdomain.PaymentEvent{
		Provider:          "internal",
		ProviderEventID:   "free_order:" + invoice.ID.String(),
		ProviderPaymentID: reference,
		Type:              paymentdomain.EventTypePaymentSucceeded,
		OrgID:             orgID,
		InvoiceID:         invoice.ID,
		Amount:            0,
		Currency:          invoice.Currency,
		OccurredAt:        s.clock.Now().UTC(),
		RawPayload:        payload,
	}
	if err := s.paymentSvc.ProcessEvent(ctx, event, payload); err != nil && err != paymentdomain.ErrEventAlreadyProcessed {
		return nil, err
	}

	s.emitAudit(ctx, orgID, "checkout.free_order", session.ID.String(), map[string]any{
		"invoice_id": invoice.ID.String(),
	})

	return &checkoutdomain.Result{SessionID: session.ID, IsFreeOrder: true}, nil
}

// resolveCustomer attaches a vault customer when possible. Any failure
// degrades to an anonymous checkout.
func (s *Service) resolveCustomer(ctx context.Context, orgID, contactID snowflake.ID) (string, string) {
	contact, err := s.contactSvc.GetByID(ctx, contactdomain.GetContactRequest{ID: contactID.String()})
	if err != nil {
		s.log.Warn("checkout contact lookup failed", zap.Error(err), zap.String("contact_id", contactID.String()))
		return "", ""
	}
	if s.vault == nil {
		return "", contact.Email
	}
	customerID, err := s.vault.EnsureCustomer(ctx, orgID, contactID, contact.Email, contact.DisplayName())
	if err != nil {
		s.log.Warn("vault customer unavailable, proceeding without", zap.Error(err), zap.String("contact_id", contactID.String()))
		return "", contact.Email
	}
	return customerID, contact.Email
}

func (s *Service) insertSession(ctx context.Context, session *checkoutdomain.CheckoutSession) error {
	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO checkout_sessions (
			id, org_id, invoice_id, lead_id, provider, provider_session_id,
			client_reference, amount, gratuity_amount, currency, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.OrgID,
		session.InvoiceID,
		session.LeadID,
		session.Provider,
		session.ProviderSessionID,
		session.ClientReference,
		session.Amount,
		session.GratuityAmount,
		session.Currency,
		string(session.Status),
		now,
		now,
	).Error
}

func (s *Service) markSession(ctx context.Context, id snowflake.ID, status checkoutdomain.CheckoutSessionStatus, providerSessionID string) {
	err := s.db.WithContext(ctx).Exec(
		`UPDATE checkout_sessions
		 SET status = ?, provider_session_id = COALESCE(NULLIF(?, ''), provider_session_id), updated_at = ?
		 WHERE id = ?`,
		string(status),
		providerSessionID,
		s.clock.Now().UTC(),
		id,
	).Error
	if err != nil {
		s.log.Warn("failed to update checkout session", zap.Error(err), zap.String("session_id", id.String()))
	}
}

func (s *Service) loadOrgCurrency(ctx context.Context, orgID snowflake.ID) string {
	var currency string
	if err := s.db.WithContext(ctx).Raw(
		`SELECT currency_code FROM organizations WHERE id = ?`,
		orgID,
	).Scan(&currency).Error; err != nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(currency))
}

func (s *Service) publicPayURL(orgID snowflake.ID, token *string) string {
	if token == nil || *token == "" {
		return s.cfg.PublicBaseURL
	}
	return fmt.Sprintf("%s/public/orgs/%s/invoice?token=%s", s.cfg.PublicBaseURL, orgID.String(), *token)
}

func (s *Service) emitAudit(ctx context.Context, orgID snowflake.ID, action, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, &orgID, "system", nil, action, "checkout_session", &targetID, metadata); err != nil {
		s.log.Warn("failed to write checkout audit log", zap.String("action", action), zap.Error(err))
	}
}

// newSessionReference mints the client reference stored on the session and
// echoed in gateway metadata. ULIDs sort by creation time, which keeps
// provider dashboards and session lookups in insertion order.
func newSessionReference() string {
	return "cs_" + ulid.Make().String()
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidRequest       = errors.New("invalid_checkout_request")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrAmountMismatch       = errors.New("amount_mismatch")
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrInvoiceNotPayable    = errors.New("invoice_not_payable")
	ErrNoSavedPaymentMethod = errors.New("no_saved_payment_method")
	ErrGatewayUnavailable   = errors.New("gateway_unavailable")
)

// Request is the closed set of checkout variants. The HTTP layer decodes
// the tagged body into exactly one of these.
type Request interface {
	isCheckoutRequest()
}

// QuoteCheckout is an ad-hoc checkout for a quoted lead. Amount already
// includes the gratuity; the orchestrator splits them into separate lines
// on the hosted page.
type QuoteCheckout struct {
	LeadID         string `json:"lead_id"`
	Description    string `json:"description"`
	Amount         int64  `json:"amount"`
	GratuityAmount int64  `json:"gratuity_amount"`
	GratuityType   string `json:"gratuity_type"`
	Currency       string `json:"currency"`
}

func (QuoteCheckout) isCheckoutRequest() {}

// InvoiceCheckout pays an existing invoice. Amount must match the balance
// due plus gratuity within one minor unit.
type InvoiceCheckout struct {
	InvoiceID      string `json:"invoice_id"`
	Amount         int64  `json:"amount"`
	GratuityAmount int64  `json:"gratuity_amount"`
}

func (InvoiceCheckout) isCheckoutRequest() {}

// Result is what the caller needs to continue: a hosted-page URL, or
// IsFreeOrder when nothing was owed and no gateway call happened.
type Result struct {
	SessionID         snowflake.ID `json:"session_id"`
	ProviderSessionID string       `json:"provider_session_id,omitempty"`
	URL               string       `json:"url,omitempty"`
	IsFreeOrder       bool         `json:"is_free_order"`
}

type ChargeSavedPaymentMethodRequest struct {
	InvoiceID string `json:"invoice_id"`
	Amount    int64  `json:"amount"`
}

type ChargeResult struct {
	ProviderPaymentID string `json:"provider_payment_id"`
	Status            string `json:"status"`
}

// SessionLine is one line on the hosted checkout page.
type SessionLine struct {
	Description string
	Amount      int64
	Quantity    int64
}

type CreateSessionInput struct {
	Reference        string
	Currency         string
	Lines            []SessionLine
	Metadata         map[string]string
	CustomerID       string
	CustomerEmail    string
	SuccessURL       string
	CancelURL        string
	SetupFutureUsage bool
}

type GatewaySession struct {
	ID  string
	URL string
}

type OffSessionChargeInput struct {
	CustomerID string
	Amount     int64
	Currency   string
	Metadata   map[string]string
}

// Gateway is the payment provider client used by the orchestrator.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, in CreateSessionInput) (*GatewaySession, error)
	CreateOffSessionCharge(ctx context.Context, in OffSessionChargeInput) (string, error)
}

type Service interface {
	Checkout(ctx context.Context, req Request) (*Result, error)
	ChargeSavedPaymentMethod(ctx context.Context, req ChargeSavedPaymentMethodRequest) (*ChargeResult, error)
}

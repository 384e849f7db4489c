package gateway

import (
	"context"
	"strings"

	checkoutdomain "github.com/smallbiznis/paylink/internal/checkout/domain"
	"github.com/smallbiznis/paylink/internal/config"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"go.uber.org/zap"
)

// StripeGateway drives hosted checkout sessions, customers and off-session
// charges against Stripe. It implements both the checkout Gateway and the
// vault CustomerGateway.
type StripeGateway struct {
	log *zap.Logger
}

func NewStripeGateway(cfg config.Config, log *zap.Logger) *StripeGateway {
	stripe.Key = cfg.StripeSecretKey
	return &StripeGateway{log: log.Named("checkout.gateway")}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, in checkoutdomain.CreateSessionInput) (*checkoutdomain.GatewaySession, error) {
	currency := strings.ToLower(strings.TrimSpace(in.Currency))

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(in.Lines))
	for _, line := range in.Lines {
		quantity := line.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(line.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Description),
				},
			},
			Quantity: stripe.Int64(quantity),
		})
	}

	intentData := &stripe.CheckoutSessionPaymentIntentDataParams{
		Metadata: in.Metadata,
	}
	if in.SetupFutureUsage {
		intentData.SetupFutureUsage = stripe.String("off_session")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		ClientReferenceID: stripe.String(in.Reference),
		Metadata:          in.Metadata,
		PaymentIntentData: intentData,
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	} else if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	params.Context = ctx

	session, err := checkoutsession.New(params)
	if err != nil {
		return nil, err
	}

	g.log.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.String("reference", in.Reference))

	return &checkoutdomain.GatewaySession{ID: session.ID, URL: session.URL}, nil
}

// CreateCustomer satisfies the vault CustomerGateway.
func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Metadata: metadata,
	}
	if strings.TrimSpace(name) != "" {
		params.Name = stripe.String(name)
	}
	params.Context = ctx

	created, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (g *StripeGateway) CreateOffSessionCharge(ctx context.Context, in checkoutdomain.OffSessionChargeInput) (string, error) {
	method, err := g.defaultPaymentMethod(ctx, in.CustomerID)
	if err != nil {
		return "", err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(in.Amount),
		Currency:      stripe.String(strings.ToLower(strings.TrimSpace(in.Currency))),
		Customer:      stripe.String(in.CustomerID),
		PaymentMethod: stripe.String(method),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
		Metadata:      in.Metadata,
	}
	params.Context = ctx

	intent, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}

	g.log.Info("off-session payment intent created",
		zap.String("payment_intent_id", intent.ID),
		zap.String("customer_id", in.CustomerID))

	return intent.ID, nil
}

func (g *StripeGateway) defaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String(string(stripe.PaymentMethodTypeCard)),
	}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := paymentmethod.List(params)
	for iter.Next() {
		return iter.PaymentMethod().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", err
	}
	return "", checkoutdomain.ErrNoSavedPaymentMethod
}

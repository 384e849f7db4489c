package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/paylink/internal/payment/domain"
)

// DefaultTolerance bounds how stale a signed webhook timestamp may be.
const DefaultTolerance = 5 * time.Minute

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

func NewAdapter(webhookSecret string) *Adapter {
	return &Adapter{
		webhookSecret: strings.TrimSpace(webhookSecret),
		tolerance:     DefaultTolerance,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (a *Adapter) Provider() string {
	return "stripe"
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := a.now().Sub(time.Unix(ts, 0))
	if age > a.tolerance || age < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentFailed)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	Created          int64             `json:"created"`
	Metadata         map[string]any    `json:"metadata"`
	LastPaymentError *stripeChargeFail `json:"last_payment_error"`
}

type stripeChargeFail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	orgID, invoiceID, leadID, err := parseMetadataIDs(intent.Metadata)
	if err != nil {
		return nil, err
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	gratuity := readMetadataInt(intent.Metadata, "gratuity_amount")

	var failureReason string
	if eventType == paymentdomain.EventTypePaymentFailed {
		amount = intent.Amount
		if intent.LastPaymentError != nil {
			failureReason = strings.TrimSpace(intent.LastPaymentError.Code)
			if failureReason == "" {
				failureReason = strings.TrimSpace(intent.LastPaymentError.Message)
			}
		}
	}

	var contactID *snowflake.ID
	if raw := readMetadataValue(intent.Metadata, "contact_id"); raw != "" {
		if parsed, err := snowflake.ParseString(raw); err == nil {
			contactID = &parsed
		}
	}

	return &paymentdomain.PaymentEvent{
		Provider:            "stripe",
		ProviderEventID:     event.ID,
		ProviderPaymentID:   intent.ID,
		ProviderPaymentType: "payment_intent",
		Type:                eventType,
		OrgID:               orgID,
		InvoiceID:           invoiceID,
		LeadID:              leadID,
		ContactID:           contactID,
		ClientReference:     readMetadataValue(intent.Metadata, "client_reference"),
		Amount:              amount,
		GratuityAmount:      gratuity,
		Currency:            strings.ToUpper(strings.TrimSpace(intent.Currency)),
		FailureReason:       failureReason,
		OccurredAt:          timestamp(intent.Created, event.Created),
		RawPayload:          payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

// parseMetadataIDs resolves our identifiers from payment metadata. Invoice
// checkouts carry invoice_id, quote checkouts carry lead_id; events with an
// org but neither target cannot be reconciled and are ignored.
func parseMetadataIDs(metadata map[string]any) (snowflake.ID, snowflake.ID, string, error) {
	orgRaw := readMetadataValue(metadata, "org_id")
	if orgRaw == "" {
		return 0, 0, "", paymentdomain.ErrEventIgnored
	}
	orgID, err := snowflake.ParseString(orgRaw)
	if err != nil {
		return 0, 0, "", paymentdomain.ErrEventIgnored
	}

	if invoiceRaw := readMetadataValue(metadata, "invoice_id"); invoiceRaw != "" {
		invoiceID, err := snowflake.ParseString(invoiceRaw)
		if err != nil {
			return 0, 0, "", paymentdomain.ErrEventIgnored
		}
		return orgID, invoiceID, "", nil
	}

	if leadID := readMetadataValue(metadata, "lead_id"); leadID != "" {
		return orgID, 0, leadID, nil
	}

	return 0, 0, "", paymentdomain.ErrEventIgnored
}

func readMetadataInt(metadata map[string]any, key string) int64 {
	raw := readMetadataValue(metadata, key)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}

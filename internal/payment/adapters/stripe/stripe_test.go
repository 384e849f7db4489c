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
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/paylink/internal/payment/domain"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded","data":{"object":{}}}`)
	timestamp := time.Now().Unix()

	header := buildStripeSignatureHeader(secret, payload, timestamp)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", header)

	adapter := NewAdapter(secret)
	if err := adapter.Verify(context.Background(), payload, reqHeader); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, timestamp))
	if err := adapter.Verify(context.Background(), payload, reqHeader); err == nil {
		t.Fatalf("expected invalid signature error")
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_old"}`)
	stale := time.Now().Add(-DefaultTolerance - time.Minute).Unix()

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, stale))

	adapter := NewAdapter(secret)
	if err := adapter.Verify(context.Background(), payload, reqHeader); !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected stale timestamp to be rejected, got %v", err)
	}
}

func TestParsePaymentEvent(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	orgID := node.Generate()
	invoiceID := node.Generate()
	created := time.Now().UTC().Unix()

	tests := []struct {
		name         string
		event        any
		wantType     string
		amount       int64
		gratuity     int64
		wantFailCode string
	}{{
		name: "payment_intent.succeeded",
		event: map[string]any{
			"id":      "evt_pi",
			"type":    "payment_intent.succeeded",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":              "pi_1",
					"amount":          2700,
					"amount_received": 2700,
					"currency":        "usd",
					"created":         created,
					"metadata": map[string]any{
						"org_id":          orgID.String(),
						"invoice_id":      invoiceID.String(),
						"gratuity_amount": "200",
					},
				},
			},
		},
		wantType: paymentdomain.EventTypePaymentSucceeded,
		amount:   2700,
		gratuity: 200,
	}, {
		name: "payment_intent.payment_failed",
		event: map[string]any{
			"id":      "evt_pi_fail",
			"type":    "payment_intent.payment_failed",
			"created": created,
			"data": map[string]any{
				"object": map[string]any{
					"id":       "pi_2",
					"amount":   2500,
					"currency": "usd",
					"created":  created,
					"metadata": map[string]any{
						"org_id":     orgID.String(),
						"invoice_id": invoiceID.String(),
					},
					"last_payment_error": map[string]any{
						"code":    "card_declined",
						"message": "Your card was declined.",
					},
				},
			},
		},
		wantType:     paymentdomain.EventTypePaymentFailed,
		amount:       2500,
		wantFailCode: "card_declined",
	}}

	adapter := NewAdapter("whsec_test")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}
			event, err := adapter.Parse(context.Background(), payload)
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Type != tt.wantType {
				t.Fatalf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.Amount != tt.amount {
				t.Fatalf("expected amount %d, got %d", tt.amount, event.Amount)
			}
			if event.GratuityAmount != tt.gratuity {
				t.Fatalf("expected gratuity %d, got %d", tt.gratuity, event.GratuityAmount)
			}
			if event.OrgID != orgID || event.InvoiceID != invoiceID {
				t.Fatalf("expected metadata ids resolved, got org=%v invoice=%v", event.OrgID, event.InvoiceID)
			}
			if event.Currency != "USD" {
				t.Fatalf("expected currency USD, got %s", event.Currency)
			}
			if event.FailureReason != tt.wantFailCode {
				t.Fatalf("expected failure reason %q, got %q", tt.wantFailCode, event.FailureReason)
			}
		})
	}
}

func TestParseQuotePaymentEvent(t *testing.T) {
	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	orgID := node.Generate()
	created := time.Now().UTC().Unix()

	payload, err := json.Marshal(map[string]any{
		"id":      "evt_lead",
		"type":    "payment_intent.succeeded",
		"created": created,
		"data": map[string]any{
			"object": map[string]any{
				"id":              "pi_lead",
				"amount":          5500,
				"amount_received": 5500,
				"currency":        "usd",
				"created":         created,
				"metadata": map[string]any{
					"org_id":           orgID.String(),
					"lead_id":          "lead_42",
					"gratuity_amount":  "500",
					"client_reference": "cs_ref_1",
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	adapter := NewAdapter("whsec_test")
	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse lead event: %v", err)
	}
	if event.OrgID != orgID {
		t.Fatalf("expected org resolved, got %v", event.OrgID)
	}
	if event.InvoiceID != 0 {
		t.Fatalf("expected no invoice on quote event, got %v", event.InvoiceID)
	}
	if event.LeadID != "lead_42" {
		t.Fatalf("expected lead id, got %q", event.LeadID)
	}
	if event.ClientReference != "cs_ref_1" {
		t.Fatalf("expected client reference, got %q", event.ClientReference)
	}
	if event.Amount != 5500 || event.GratuityAmount != 500 {
		t.Fatalf("expected amounts 5500/500, got %d/%d", event.Amount, event.GratuityAmount)
	}
}

func TestParseIgnoresUnmappedEvents(t *testing.T) {
	adapter := NewAdapter("whsec_test")

	noMetadata := []byte(`{"id":"evt_x","type":"payment_intent.succeeded","data":{"object":{"id":"pi_x","amount":100,"currency":"usd"}}}`)
	if _, err := adapter.Parse(context.Background(), noMetadata); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected event without metadata ignored, got %v", err)
	}

	unknownType := []byte(`{"id":"evt_y","type":"customer.created","data":{"object":{}}}`)
	if _, err := adapter.Parse(context.Background(), unknownType); !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected unknown event type ignored, got %v", err)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}

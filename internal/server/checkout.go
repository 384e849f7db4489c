package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/paylink/internal/checkout/domain"
)

const (
	checkoutTypeQuote   = "quote"
	checkoutTypeInvoice = "invoice"
)

// CreateCheckout decodes the tagged checkout body. The type field selects
// the variant; the rest of the body is the variant's own payload, validated
// by the orchestrator.
func (s *Server) CreateCheckout(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &tag); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	kind := strings.ToLower(strings.TrimSpace(tag.Type))

	var req checkoutdomain.Request
	switch kind {
	case checkoutTypeQuote:
		var quote checkoutdomain.QuoteCheckout
		if err := json.Unmarshal(body, &quote); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		req = quote
	case checkoutTypeInvoice:
		var invoice checkoutdomain.InvoiceCheckout
		if err := json.Unmarshal(body, &invoice); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		req = invoice
	default:
		AbortWithError(c, newValidationError("type", "invalid_checkout_type", "type must be quote or invoice"))
		return
	}

	result, err := s.checkoutSvc.Checkout(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCheckoutSession(c.Request.Context(), kind, "stripe")
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ChargeSavedPaymentMethod(c *gin.Context) {
	var req checkoutdomain.ChargeSavedPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.checkoutSvc.ChargeSavedPaymentMethod(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil && result != nil {
		targetID := strings.TrimSpace(req.InvoiceID)
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "checkout.charge_saved", "invoice", &targetID, map[string]any{
			"provider_payment_id": result.ProviderPaymentID,
			"amount":              req.Amount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

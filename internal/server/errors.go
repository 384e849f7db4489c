package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/paylink/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/paylink/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/paylink/internal/checkout/domain"
	contactdomain "github.com/smallbiznis/paylink/internal/contact/domain"
	invoicedomain "github.com/smallbiznis/paylink/internal/invoice/domain"
	organizationdomain "github.com/smallbiznis/paylink/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/paylink/internal/payment/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog buckets handler errors for the request log without
// leaking message contents. The first return is a coarse type, the second
// the sentinel code.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status == http.StatusNotFound:
		return "not_found", sentinelCode(err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_error", payload.Type
	case status == http.StatusTooManyRequests:
		return "rate_limited", payload.Type
	default:
		return "client_error", sentinelCode(err)
	}
}

func sentinelCode(err error) string {
	msg := err.Error()
	if len(msg) > 64 || strings.ContainsAny(msg, " \t\n") {
		return "error"
	}
	return msg
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, apikeydomain.ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, invoicedomain.ErrInvoiceNotDraft),
		errors.Is(err, invoicedomain.ErrInvoiceNotVoidable),
		errors.Is(err, checkoutdomain.ErrInvoiceNotPayable):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	// Gateway failures surface as a generic 500 so provider outages
	// never leak upstream detail to API callers.
	case errors.Is(err, checkoutdomain.ErrGatewayUnavailable):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isInvoiceValidationError(err),
		isContactValidationError(err),
		isCheckoutValidationError(err),
		isOrganizationValidationError(err),
		isAPIKeyValidationError(err),
		isAuditValidationError(err),
		isWebhookValidationError(err):
		return true
	default:
		return false
	}
}

func isInvoiceValidationError(err error) bool {
	return errors.Is(err, invoicedomain.ErrInvalidOrganization) ||
		errors.Is(err, invoicedomain.ErrInvalidInvoiceID) ||
		errors.Is(err, invoicedomain.ErrInvalidContact) ||
		errors.Is(err, invoicedomain.ErrInvalidItems)
}

func isContactValidationError(err error) bool {
	return errors.Is(err, contactdomain.ErrInvalidOrganization) ||
		errors.Is(err, contactdomain.ErrInvalidName) ||
		errors.Is(err, contactdomain.ErrInvalidEmail) ||
		errors.Is(err, contactdomain.ErrInvalidID)
}

func isCheckoutValidationError(err error) bool {
	return errors.Is(err, checkoutdomain.ErrInvalidRequest) ||
		errors.Is(err, checkoutdomain.ErrInvalidAmount) ||
		errors.Is(err, checkoutdomain.ErrAmountMismatch) ||
		errors.Is(err, checkoutdomain.ErrNoSavedPaymentMethod)
}

func isOrganizationValidationError(err error) bool {
	return errors.Is(err, organizationdomain.ErrInvalidName) ||
		errors.Is(err, organizationdomain.ErrInvalidCountry) ||
		errors.Is(err, organizationdomain.ErrInvalidTimezone) ||
		errors.Is(err, organizationdomain.ErrInvalidCurrency) ||
		errors.Is(err, organizationdomain.ErrInvalidNumberTemplate) ||
		errors.Is(err, organizationdomain.ErrInvalidOrganization)
}

func isAPIKeyValidationError(err error) bool {
	return errors.Is(err, apikeydomain.ErrInvalidOrganization) ||
		errors.Is(err, apikeydomain.ErrInvalidName) ||
		errors.Is(err, apikeydomain.ErrInvalidScope) ||
		errors.Is(err, apikeydomain.ErrInvalidKeyID)
}

func isAuditValidationError(err error) bool {
	return errors.Is(err, auditdomain.ErrInvalidOrganization) ||
		errors.Is(err, auditdomain.ErrInvalidPageToken) ||
		errors.Is(err, auditdomain.ErrInvalidTimeRange) ||
		errors.Is(err, auditdomain.ErrInvalidAction)
}

func isWebhookValidationError(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidProvider) ||
		errors.Is(err, paymentdomain.ErrProviderNotFound) ||
		errors.Is(err, paymentdomain.ErrInvalidPayload) ||
		errors.Is(err, paymentdomain.ErrInvalidSignature) ||
		errors.Is(err, paymentdomain.ErrInvalidEvent) ||
		errors.Is(err, paymentdomain.ErrInvalidAmount) ||
		errors.Is(err, paymentdomain.ErrInvalidCurrency)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, checkoutdomain.ErrInvoiceNotFound),
		errors.Is(err, contactdomain.ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return sentinelCode(err)
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

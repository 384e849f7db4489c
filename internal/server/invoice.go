package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/paylink/internal/invoice/domain"
)

type listInvoicesQuery struct {
	PageToken   string `form:"page_token"`
	PageSize    int32  `form:"page_size"`
	Status      string `form:"status"`
	ContactID   string `form:"contact_id"`
	CreatedFrom string `form:"created_from"`
	CreatedTo   string `form:"created_to"`
	DueFrom     string `form:"due_from"`
	DueTo       string `form:"due_to"`
}

type voidInvoiceRequest struct {
	Reason string `json:"reason"`
}

type invoiceResponse struct {
	invoicedomain.Invoice
	DisplayStatus string                      `json:"display_status"`
	Items         []invoicedomain.InvoiceItem `json:"items,omitempty"`
}

func (s *Server) invoiceView(inv invoicedomain.Invoice, items []invoicedomain.InvoiceItem) invoiceResponse {
	graceDays := s.billing.Get().OverdueGraceDays
	return invoiceResponse{
		Invoice:       inv,
		DisplayStatus: inv.DisplayStatus(time.Now().UTC(), graceDays),
		Items:         items,
	}
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	inv, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.invoiceSvc.ListItems(c.Request.Context(), inv.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := inv.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), &inv.OrgID, "", nil, "invoice.created", "invoice", &targetID, map[string]any{
			"contact_id":   inv.ContactID.String(),
			"total_amount": inv.TotalAmount,
			"currency":     inv.Currency,
		})
	}

	c.JSON(http.StatusCreated, gin.H{"data": s.invoiceView(inv, items)})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query listInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := invoicedomain.ListInvoiceRequest{
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	}

	if status := strings.TrimSpace(query.Status); status != "" {
		parsed := invoicedomain.InvoiceStatus(strings.ToUpper(status))
		switch parsed {
		case invoicedomain.InvoiceStatusDraft,
			invoicedomain.InvoiceStatusSent,
			invoicedomain.InvoiceStatusViewed,
			invoicedomain.InvoiceStatusPartial,
			invoicedomain.InvoiceStatusPaid,
			invoicedomain.InvoiceStatusVoid:
			req.Status = &parsed
		default:
			AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
			return
		}
	}

	contactID, err := parseOptionalSnowflakeID(query.ContactID)
	if err != nil {
		AbortWithError(c, newValidationError("contact_id", "invalid_id", "invalid contact id"))
		return
	}
	req.ContactID = contactID

	if req.CreatedFrom, err = parseOptionalTime(query.CreatedFrom, false); err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_time", "invalid time"))
		return
	}
	if req.CreatedTo, err = parseOptionalTime(query.CreatedTo, true); err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_time", "invalid time"))
		return
	}
	if req.DueFrom, err = parseOptionalTime(query.DueFrom, false); err != nil {
		AbortWithError(c, newValidationError("due_from", "invalid_time", "invalid time"))
		return
	}
	if req.DueTo, err = parseOptionalTime(query.DueTo, true); err != nil {
		AbortWithError(c, newValidationError("due_to", "invalid_time", "invalid time"))
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]invoiceResponse, 0, len(resp.Invoices))
	for _, inv := range resp.Invoices {
		views = append(views, s.invoiceView(inv, nil))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      views,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	parsed, err := snowflake.ParseString(id)
	if err != nil || parsed == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	inv, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items, err := s.invoiceSvc.ListItems(c.Request.Context(), inv.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.invoiceView(inv, items)})
}

func (s *Server) SendInvoice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	inv, err := s.invoiceSvc.Send(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordInvoiceIssued(c.Request.Context(), inv.OrgID.String())
	}
	if s.auditSvc != nil {
		targetID := inv.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), &inv.OrgID, "", nil, "invoice.sent", "invoice", &targetID, nil)
	}

	c.JSON(http.StatusOK, gin.H{"data": s.invoiceView(inv, nil)})
}

func (s *Server) VoidInvoice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	var req voidInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		AbortWithError(c, invalidRequestError())
		return
	}

	inv, err := s.invoiceSvc.Void(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := inv.ID.String()
		meta := map[string]any{}
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			meta["reason"] = reason
		}
		_ = s.auditSvc.AuditLog(c.Request.Context(), &inv.OrgID, "", nil, "invoice.voided", "invoice", &targetID, meta)
	}

	c.JSON(http.StatusOK, gin.H{"data": s.invoiceView(inv, nil)})
}

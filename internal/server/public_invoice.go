package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	publicinvoicedomain "github.com/smallbiznis/paylink/internal/publicinvoice/domain"
)

type publicInvoiceUnavailable struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// publicInvoiceParams extracts the org id and payment token. A malformed org
// id is indistinguishable from a bad token on purpose.
func publicInvoiceParams(c *gin.Context) (snowflake.ID, string, bool) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(c.Param("org_id")))
	if err != nil || orgID == 0 {
		return 0, "", false
	}
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		return 0, "", false
	}
	return orgID, token, true
}

func respondPublicInvoiceUnavailable(c *gin.Context) {
	c.JSON(http.StatusNotFound, publicInvoiceUnavailable{
		Code:    "INVOICE_NOT_AVAILABLE",
		Message: "This invoice link is no longer available.",
	})
}

func handlePublicInvoiceError(c *gin.Context, err error) {
	if errors.Is(err, publicinvoicedomain.ErrInvoiceUnavailable) {
		respondPublicInvoiceUnavailable(c)
		return
	}
	AbortWithError(c, err)
}

func (s *Server) GetPublicInvoice(c *gin.Context) {
	orgID, token, ok := publicInvoiceParams(c)
	if !ok {
		respondPublicInvoiceUnavailable(c)
		return
	}

	view, err := s.publicInvoiceSvc.View(c.Request.Context(), orgID, token)
	if err != nil {
		handlePublicInvoiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetPublicInvoicePDF(c *gin.Context) {
	orgID, token, ok := publicInvoiceParams(c)
	if !ok {
		respondPublicInvoiceUnavailable(c)
		return
	}

	pdf, err := s.publicInvoiceSvc.Pdf(c.Request.Context(), orgID, token)
	if err != nil {
		handlePublicInvoiceError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPDFRender(c.Request.Context(), orgID.String())
	}

	c.Header("Content-Disposition", `attachment; filename="`+pdf.Filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf.Content)
}

func (s *Server) PayPublicInvoice(c *gin.Context) {
	orgID, token, ok := publicInvoiceParams(c)
	if !ok {
		respondPublicInvoiceUnavailable(c)
		return
	}

	var req publicinvoicedomain.PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	session, err := s.publicInvoiceSvc.Pay(c.Request.Context(), orgID, token, req)
	if err != nil {
		handlePublicInvoiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

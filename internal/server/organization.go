package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	organizationdomain "github.com/smallbiznis/paylink/internal/organization/domain"
	"github.com/smallbiznis/paylink/internal/orgcontext"
)

type updateOrganizationRequest struct {
	Name                  *string `json:"name"`
	SupportEmail          *string `json:"support_email"`
	CurrencyCode          *string `json:"currency_code"`
	TimezoneName          *string `json:"timezone_name"`
	InvoiceNumberTemplate *string `json:"invoice_number_template"`
}

func (s *Server) GetOrganization(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	org, err := s.organizationSvc.GetByID(c.Request.Context(), orgID.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": org})
}

func (s *Server) UpdateOrganizationSettings(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req updateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.organizationSvc.UpdateSettings(c.Request.Context(), orgID.String(), organizationdomain.UpdateSettingsRequest{
		Name:                  req.Name,
		SupportEmail:          req.SupportEmail,
		CurrencyCode:          req.CurrencyCode,
		TimezoneName:          req.TimezoneName,
		InvoiceNumberTemplate: req.InvoiceNumberTemplate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := orgID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), &orgID, "", nil, "organization.settings_updated", "organization", &targetID, nil)
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

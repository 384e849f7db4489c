package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type testCleanupRequest struct {
	Prefix string `json:"prefix"`
}

// TestCleanup deletes organizations created by end-to-end runs, matched by
// name prefix, together with everything hanging off them. Never registered
// in production.
func (s *Server) TestCleanup(c *gin.Context) {
	if s.cfg.Environment == "production" {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req testCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	prefix := strings.TrimSpace(req.Prefix)
	if prefix == "" {
		AbortWithError(c, newValidationError("prefix", "required", "prefix is required"))
		return
	}

	ctx := c.Request.Context()
	like := prefix + "%"

	var orgIDs []int64
	if err := s.db.WithContext(ctx).
		Table("organizations").
		Select("id").
		Where("name LIKE ?", like).
		Scan(&orgIDs).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	if len(orgIDs) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	tables := []string{
		"payment_records",
		"payment_events",
		"checkout_sessions",
		"gateway_customers",
		"invoice_items",
		"invoices",
		"contacts",
		"outbound_events",
		"audit_logs",
		"api_keys",
		"organizations",
	}
	for _, table := range tables {
		column := "org_id"
		if table == "organizations" {
			column = "id"
		}
		if err := s.db.WithContext(ctx).Exec(
			`DELETE FROM `+table+` WHERE `+column+` IN ?`, orgIDs,
		).Error; err != nil {
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	contactdomain "github.com/smallbiznis/paylink/internal/contact/domain"
)

type createContactRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type listContactsQuery struct {
	PageToken   string `form:"page_token"`
	PageSize    int32  `form:"page_size"`
	Name        string `form:"name"`
	Email       string `form:"email"`
	CreatedFrom string `form:"created_from"`
	CreatedTo   string `form:"created_to"`
}

func (s *Server) CreateContact(c *gin.Context) {
	var req createContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	contact, err := s.contactSvc.Create(c.Request.Context(), contactdomain.CreateContactRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": contact})
}

func (s *Server) ListContacts(c *gin.Context) {
	var query listContactsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := contactdomain.ListContactRequest{
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
		Name:      strings.TrimSpace(query.Name),
		Email:     strings.TrimSpace(query.Email),
	}

	var err error
	if req.CreatedFrom, err = parseOptionalTime(query.CreatedFrom, false); err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_time", "invalid time"))
		return
	}
	if req.CreatedTo, err = parseOptionalTime(query.CreatedTo, true); err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_time", "invalid time"))
		return
	}

	resp, err := s.contactSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      resp.Contacts,
		"page_info": resp.PageInfo,
	})
}

func (s *Server) GetContactByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	contact, err := s.contactSvc.GetByID(c.Request.Context(), contactdomain.GetContactRequest{ID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": contact})
}

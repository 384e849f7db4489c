package domain

import (
	"context"
	"errors"
)

type Service interface {
	Create(ctx context.Context, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*Organization, error)
	GetBySlug(ctx context.Context, slug string) (*Organization, error)
	UpdateSettings(ctx context.Context, orgID string, req UpdateSettingsRequest) (*OrganizationResponse, error)
}

type CreateOrganizationRequest struct {
	Name         string
	SupportEmail string
	CountryCode  string
	TimezoneName string
	CurrencyCode string
}

type UpdateSettingsRequest struct {
	Name                  *string
	SupportEmail          *string
	CurrencyCode          *string
	TimezoneName          *string
	InvoiceNumberTemplate *string
}

type OrganizationResponse struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	Slug                  string `json:"slug"`
	SupportEmail          string `json:"support_email,omitempty"`
	CountryCode           string `json:"country_code"`
	TimezoneName          string `json:"timezone_name"`
	CurrencyCode          string `json:"currency_code"`
	InvoiceNumberTemplate string `json:"invoice_number_template,omitempty"`
}

var (
	ErrInvalidName           = errors.New("invalid_name")
	ErrInvalidCountry        = errors.New("invalid_country")
	ErrInvalidTimezone       = errors.New("invalid_timezone")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidNumberTemplate = errors.New("invalid_number_template")
	ErrInvalidOrganization   = errors.New("invalid_organization")
	ErrOrganizationNotFound  = errors.New("organization_not_found")
)

package service

import (
	"strings"
	"time"

	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	eventdomain "github.com/smallbiznis/paylink/internal/event/domain"
	"github.com/smallbiznis/paylink/internal/invoice/format"
	"github.com/smallbiznis/paylink/internal/organization/domain"
	referencedomain "github.com/smallbiznis/paylink/internal/reference/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db        *gorm.DB
	repo      domain.Repository
	ref       referencedomain.Repository
	genID     *snowflake.Node
	publisher eventdomain.Publisher
}

func NewService(db *gorm.DB, repo domain.Repository, ref referencedomain.Repository, genID *snowflake.Node, publisher eventdomain.Publisher) domain.Service {
	return &service{
		db:        db,
		repo:      repo,
		ref:       ref,
		genID:     genID,
		publisher: publisher,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	countryCode := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if countryCode == "" {
		return nil, domain.ErrInvalidCountry
	}

	timezoneName := strings.TrimSpace(req.TimezoneName)
	if timezoneName == "" {
		return nil, domain.ErrInvalidTimezone
	}

	currencyCode := strings.ToUpper(strings.TrimSpace(req.CurrencyCode))
	if currencyCode == "" {
		currencyCode = "USD"
	}

	countryOK, err := s.countryExists(ctx, countryCode)
	if err != nil {
		return nil, err
	}
	if !countryOK {
		return nil, domain.ErrInvalidCountry
	}

	timezoneOK, err := s.timezoneAllowed(ctx, countryCode, timezoneName)
	if err != nil {
		return nil, err
	}
	if !timezoneOK {
		return nil, domain.ErrInvalidTimezone
	}

	currencyOK, err := s.currencyExists(ctx, currencyCode)
	if err != nil {
		return nil, err
	}
	if !currencyOK {
		return nil, domain.ErrInvalidCurrency
	}

	now := time.Now().UTC()
	orgID := s.genID.Generate()
	org := domain.Organization{
		ID:           orgID,
		Name:         name,
		Slug:         slug.Make(name),
		SupportEmail: strings.TrimSpace(req.SupportEmail),
		CountryCode:  countryCode,
		TimezoneName: timezoneName,
		CurrencyCode: currencyCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateOrganization(ctx, org); err != nil {
			return err
		}
		return s.publisher.WithTx(tx).Publish(ctx, orgID, eventdomain.TopicOrganizationCreated, map[string]any{
			"organization_id": orgID.String(),
			"country_code":    countryCode,
			"timezone_name":   timezoneName,
			"currency_code":   currencyCode,
			"created_at":      now.Format(time.RFC3339),
		}, "organization.created:"+orgID.String())
	})
	if err != nil {
		return nil, err
	}

	return toResponse(&org), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return nil, domain.ErrInvalidOrganization
	}
	orgID, err := snowflake.ParseString(raw)
	if err != nil {
		return nil, domain.ErrInvalidOrganization
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, err
	}
	return org, nil
}

func (s *service) GetBySlug(ctx context.Context, raw string) (*domain.Organization, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil, domain.ErrInvalidOrganization
	}

	org, err := s.repo.GetOrganizationBySlug(ctx, cleaned)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, err
	}
	return org, nil
}

func (s *service) UpdateSettings(ctx context.Context, orgID string, req domain.UpdateSettingsRequest) (*domain.OrganizationResponse, error) {
	org, err := s.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		org.Name = name
	}
	if req.SupportEmail != nil {
		org.SupportEmail = strings.TrimSpace(*req.SupportEmail)
	}
	if req.CurrencyCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*req.CurrencyCode))
		ok, err := s.currencyExists(ctx, code)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrInvalidCurrency
		}
		org.CurrencyCode = code
	}
	if req.TimezoneName != nil {
		tz := strings.TrimSpace(*req.TimezoneName)
		ok, err := s.timezoneAllowed(ctx, org.CountryCode, tz)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrInvalidTimezone
		}
		org.TimezoneName = tz
	}

	if req.InvoiceNumberTemplate != nil {
		template := strings.TrimSpace(*req.InvoiceNumberTemplate)
		if template != "" {
			if _, err := format.FormatInvoiceNumber(template, time.Now().UTC(), 1); err != nil {
				return nil, domain.ErrInvalidNumberTemplate
			}
		}
		org.InvoiceNumberTemplate = template
	}

	org.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateSettings(ctx, *org); err != nil {
		zap.L().Error("failed to update organization settings", zap.Error(err), zap.String("org_id", org.ID.String()))
		return nil, err
	}

	return toResponse(org), nil
}

func toResponse(org *domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:                    org.ID.String(),
		Name:                  org.Name,
		Slug:                  org.Slug,
		SupportEmail:          org.SupportEmail,
		CountryCode:           org.CountryCode,
		TimezoneName:          org.TimezoneName,
		CurrencyCode:          org.CurrencyCode,
		InvoiceNumberTemplate: org.InvoiceNumberTemplate,
	}
}

func (s *service) countryExists(ctx context.Context, code string) (bool, error) {
	countries, err := s.ref.ListCountries(ctx)
	if err != nil {
		return false, err
	}
	for _, country := range countries {
		if country.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) timezoneAllowed(ctx context.Context, countryCode, timezoneName string) (bool, error) {
	timezones, err := s.ref.ListTimezonesByCountry(ctx, countryCode)
	if err != nil {
		return false, err
	}
	for _, tz := range timezones {
		if tz.Name == timezoneName {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) currencyExists(ctx context.Context, code string) (bool, error) {
	currencies, err := s.ref.ListCurrencies(ctx)
	if err != nil {
		return false, err
	}
	for _, currency := range currencies {
		if currency.Code == code {
			return true, nil
		}
	}
	return false, nil
}

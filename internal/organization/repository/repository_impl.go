package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/internal/organization/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateOrganization(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, name, slug, support_email, country_code, timezone_name, currency_code, invoice_number_template, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.Slug,
		org.SupportEmail,
		org.CountryCode,
		org.TimezoneName,
		org.CurrencyCode,
		org.InvoiceNumberTemplate,
		org.CreatedAt,
		org.UpdatedAt,
	).Error
}

func (r *repository) GetOrganization(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM organizations WHERE id = ?`, id,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &org, nil
}

func (r *repository) GetOrganizationBySlug(ctx context.Context, slug string) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM organizations WHERE slug = ?`, slug,
	).Scan(&org).Error
	if err != nil {
		return nil, err
	}
	if org.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &org, nil
}

func (r *repository) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	var orgs []domain.Organization
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM organizations ORDER BY created_at ASC`,
	).Scan(&orgs).Error
	if err != nil {
		return nil, err
	}
	return orgs, nil
}

func (r *repository) UpdateSettings(ctx context.Context, org domain.Organization) error {
	if org.ID == 0 {
		return errors.New("missing organization id")
	}
	return r.db.WithContext(ctx).Exec(
		`UPDATE organizations
		 SET name = ?, support_email = ?, currency_code = ?, timezone_name = ?, invoice_number_template = ?, updated_at = ?
		 WHERE id = ?`,
		org.Name,
		org.SupportEmail,
		org.CurrencyCode,
		org.TimezoneName,
		org.InvoiceNumberTemplate,
		org.UpdatedAt,
		org.ID,
	).Error
}

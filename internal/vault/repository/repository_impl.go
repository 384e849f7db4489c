package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/internal/vault/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByContact(ctx context.Context, db *gorm.DB, orgID, contactID snowflake.ID) (*domain.GatewayCustomer, error) {
	var gc domain.GatewayCustomer
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, contact_id, provider, provider_customer_id, created_at, updated_at
		 FROM gateway_customers WHERE org_id = ? AND contact_id = ?`,
		orgID,
		contactID,
	).Scan(&gc).Error
	if err != nil {
		return nil, err
	}
	if gc.ID == 0 {
		return nil, nil
	}
	return &gc, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, gc *domain.GatewayCustomer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO gateway_customers (id, org_id, contact_id, provider, provider_customer_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id, contact_id) DO NOTHING`,
		gc.ID,
		gc.OrgID,
		gc.ContactID,
		gc.Provider,
		gc.ProviderCustomerID,
		gc.CreatedAt,
		gc.UpdatedAt,
	).Error
}

package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/internal/publicinvoice/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.OrgRecord, error) {
	if db == nil || orgID == 0 {
		return nil, nil
	}

	var row domain.OrgRecord
	if err := db.WithContext(ctx).Raw(
		`SELECT id, name FROM organizations WHERE id = ?`,
		orgID,
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) FindContact(ctx context.Context, db *gorm.DB, orgID, contactID snowflake.ID) (*domain.ContactRecord, error) {
	if db == nil || orgID == 0 || contactID == 0 {
		return nil, nil
	}

	var row domain.ContactRecord
	if err := db.WithContext(ctx).Raw(
		`SELECT id, first_name, last_name, email
		 FROM contacts WHERE id = ? AND org_id = ?`,
		contactID,
		orgID,
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]domain.ItemRecord, error) {
	if db == nil || orgID == 0 || invoiceID == 0 {
		return nil, nil
	}

	var rows []domain.ItemRecord
	if err := db.WithContext(ctx).Raw(
		`SELECT description, quantity, unit_amount, amount
		 FROM invoice_items
		 WHERE invoice_id = ? AND org_id = ?
		 ORDER BY position ASC, id ASC`,
		invoiceID,
		orgID,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}

	return rows, nil
}

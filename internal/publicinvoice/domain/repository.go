package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*OrgRecord, error)
	FindContact(ctx context.Context, db *gorm.DB, orgID, contactID snowflake.ID) (*ContactRecord, error)
	ListItems(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) ([]ItemRecord, error)
}

type OrgRecord struct {
	ID   snowflake.ID `gorm:"column:id"`
	Name string       `gorm:"column:name"`
}

type ContactRecord struct {
	ID        snowflake.ID `gorm:"column:id"`
	FirstName string       `gorm:"column:first_name"`
	LastName  string       `gorm:"column:last_name"`
	Email     string       `gorm:"column:email"`
}

type ItemRecord struct {
	Description string `gorm:"column:description"`
	Quantity    int64  `gorm:"column:quantity"`
	UnitAmount  int64  `gorm:"column:unit_amount"`
	Amount      int64  `gorm:"column:amount"`
}

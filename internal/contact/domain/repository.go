package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, contact *Contact) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Contact, error)
	FindByEmail(ctx context.Context, db *gorm.DB, orgID snowflake.ID, email string) (*Contact, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListContactFilter, page pagination.Pagination) ([]*Contact, error)
}

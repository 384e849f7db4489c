package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// CustomerGateway creates the provider-side customer object when none
// exists yet.
type CustomerGateway interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
}

type Repository interface {
	FindByContact(ctx context.Context, db *gorm.DB, orgID, contactID snowflake.ID) (*GatewayCustomer, error)
	Insert(ctx context.Context, db *gorm.DB, gc *GatewayCustomer) error
}

// Service resolves the provider customer for a contact, creating it on
// first use. Callers treat failures as soft: a checkout without a vault
// customer still goes through.
type Service interface {
	EnsureCustomer(ctx context.Context, orgID, contactID snowflake.ID, email, name string) (string, error)
	FindCustomer(ctx context.Context, orgID, contactID snowflake.ID) (*GatewayCustomer, error)
}

var (
	ErrInvalidContact = errors.New("invalid_contact")
	ErrNoGateway      = errors.New("no_customer_gateway")
)

package domain

import (
	"context"
	"errors"
	"time"
)

// Scopes granted to admin API keys.
const (
	ScopeInvoicesRead  = "invoices:read"
	ScopeInvoicesWrite = "invoices:write"
	ScopeCheckoutWrite = "checkout:write"
	ScopeAuditRead     = "audit:read"
)

// KnownScopes lists every grantable scope. Keys created without an explicit
// scope list receive all of them.
var KnownScopes = []string{
	ScopeInvoicesRead,
	ScopeInvoicesWrite,
	ScopeCheckoutWrite,
	ScopeAuditRead,
}

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error

	// Verify resolves a presented bearer key to its record. Inactive,
	// expired, and unknown keys all return ErrUnauthorized.
	Verify(ctx context.Context, presented string) (*APIKey, error)
}

type CreateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type Response struct {
	KeyID            string     `json:"key_id"`
	Name             string     `json:"name"`
	Scopes           []string   `json:"scopes"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	RotatedFromKeyID *string    `json:"rotated_from_key_id"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

// HasScope reports whether the key grants the named scope.
func (k APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidScope        = errors.New("invalid_scope")
	ErrInvalidKeyID        = errors.New("invalid_key_id")
	ErrNotFound            = errors.New("not_found")
	ErrUnauthorized        = errors.New("unauthorized")
)

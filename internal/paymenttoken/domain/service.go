// Package domain defines the payment token capability. A token is the only
// credential for the public invoice surface: possession grants read and pay
// access to exactly one invoice.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Issuer mints and resolves capability tokens. Tokens are bound 1:1 to an
// invoice at issuance; EnsureForInvoice returns the existing token when one
// is already set.
type Issuer interface {
	EnsureForInvoice(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (string, error)

	// Lookup resolves the invoice for a presented token. Unknown tokens and
	// near-miss tokens are indistinguishable to the caller.
	Lookup(ctx context.Context, orgID snowflake.ID, presented string) (snowflake.ID, error)
}

var (
	ErrTokenInvalid = errors.New("token_invalid")
	ErrInvariant    = errors.New("token_invariant_violation")
)

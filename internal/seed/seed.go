package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apikeydomain "github.com/smallbiznis/paylink/internal/apikey/domain"
	organizationdomain "github.com/smallbiznis/paylink/internal/organization/domain"
)

const (
	defaultOrgName = "Main"
	defaultOrgSlug = "main"

	bootstrapKeyName = "bootstrap"
)

// EnsureDefaultOrg seeds the default organization and, when the org has no
// API keys yet, mints a bootstrap key with every scope. The plaintext key is
// written to the log exactly once; operators are expected to rotate it.
func EnsureDefaultOrg(db *gorm.DB, log *zap.Logger) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureDefaultOrgTx(ctx, tx, node)
		if err != nil {
			return err
		}
		return ensureBootstrapKeyTx(ctx, tx, node, org.ID, log)
	})
}

func ensureDefaultOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (organizationdomain.Organization, error) {
	var org organizationdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, err
	}

	now := time.Now().UTC()
	org = organizationdomain.Organization{
		ID:           node.Generate(),
		Name:         defaultOrgName,
		Slug:         defaultOrgSlug,
		IsDefault:    true,
		CurrencyCode: "USD",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return org, err
	}
	return org, nil
}

func ensureBootstrapKeyTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID, log *zap.Logger) error {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM api_keys WHERE org_id = ?`, orgID,
	).Scan(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	id := node.Generate()
	keyID := apikeydomain.NewKeyID(id)
	plain, hash, err := apikeydomain.MintKey(keyID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	key := apikeydomain.APIKey{
		ID:        id,
		OrgID:     orgID,
		KeyID:     keyID,
		Name:      bootstrapKeyName,
		Scopes:    pq.StringArray(append([]string(nil), apikeydomain.KnownScopes...)),
		KeyHash:   hash,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&key).Error; err != nil {
		return err
	}

	log.Warn("bootstrap api key created, rotate it after first use",
		zap.String("key_id", keyID),
		zap.String("api_key", plain),
	)
	return nil
}

package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/internal/paymenttoken/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(p Params) domain.Issuer {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("paymenttoken.service"),
	}
}

func (s *Service) EnsureForInvoice(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (string, error) {
	if orgID == 0 || invoiceID == 0 {
		return "", domain.ErrInvariant
	}
	if tx == nil {
		tx = s.db
	}

	var existing *string
	err := tx.WithContext(ctx).Raw(
		`SELECT payment_token FROM invoices WHERE org_id = ? AND id = ?`,
		orgID,
		invoiceID,
	).Scan(&existing).Error
	if err != nil {
		return "", err
	}
	if existing != nil && strings.TrimSpace(*existing) != "" {
		return *existing, nil
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET payment_token = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND payment_token IS NULL`,
		token,
		time.Now().UTC(),
		orgID,
		invoiceID,
	)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		// A concurrent mint won; read back whichever token landed.
		var stored *string
		err := tx.WithContext(ctx).Raw(
			`SELECT payment_token FROM invoices WHERE org_id = ? AND id = ?`,
			orgID,
			invoiceID,
		).Scan(&stored).Error
		if err != nil {
			return "", err
		}
		if stored == nil || strings.TrimSpace(*stored) == "" {
			return "", domain.ErrInvariant
		}
		return *stored, nil
	}

	return token, nil
}

func (s *Service) Lookup(ctx context.Context, orgID snowflake.ID, presented string) (snowflake.ID, error) {
	presented = strings.TrimSpace(presented)
	if orgID == 0 || presented == "" {
		return 0, domain.ErrTokenInvalid
	}

	var row struct {
		ID           snowflake.ID
		PaymentToken string
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, payment_token FROM invoices WHERE org_id = ? AND payment_token = ?`,
		orgID,
		presented,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, domain.ErrTokenInvalid
	}
	if subtle.ConstantTimeCompare([]byte(row.PaymentToken), []byte(presented)) != 1 {
		return 0, domain.ErrTokenInvalid
	}

	return row.ID, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

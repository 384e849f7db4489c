package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/paylink/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, in ledgerdomain.AppendRecordInput) (*ledgerdomain.PaymentRecord, error) {
	if in.OrgID == 0 {
		return nil, ledgerdomain.ErrInvalidOrganization
	}
	leadID := strings.TrimSpace(in.LeadID)
	if in.InvoiceID == 0 && leadID == "" {
		return nil, ledgerdomain.ErrInvalidInvoice
	}
	provider := strings.TrimSpace(in.Provider)
	if provider == "" {
		return nil, ledgerdomain.ErrInvalidProvider
	}
	if in.Amount < 0 || in.GratuityAmount < 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	switch in.Status {
	case ledgerdomain.PaymentRecordStatusSucceeded, ledgerdomain.PaymentRecordStatusFailed:
	default:
		return nil, ledgerdomain.ErrInvalidStatus
	}

	if tx == nil {
		tx = s.db
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var invoiceID *snowflake.ID
	if in.InvoiceID != 0 {
		invoiceID = &in.InvoiceID
	}

	rec := ledgerdomain.PaymentRecord{
		ID:                s.genID.Generate(),
		OrgID:             in.OrgID,
		InvoiceID:         invoiceID,
		LeadID:            leadID,
		Provider:          provider,
		ProviderPaymentID: strings.TrimSpace(in.ProviderPaymentID),
		Status:            in.Status,
		Amount:            in.Amount,
		GratuityAmount:    in.GratuityAmount,
		Currency:          strings.ToUpper(strings.TrimSpace(in.Currency)),
		FailureReason:     strings.TrimSpace(in.FailureReason),
		Metadata:          datatypes.JSONMap(in.Metadata),
		OccurredAt:        occurredAt.UTC(),
		CreatedAt:         time.Now().UTC(),
	}

	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO payment_records (
			id, org_id, invoice_id, lead_id, provider, provider_payment_id,
			status, amount, gratuity_amount, currency, failure_reason,
			metadata, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.OrgID,
		rec.InvoiceID,
		rec.LeadID,
		rec.Provider,
		rec.ProviderPaymentID,
		string(rec.Status),
		rec.Amount,
		rec.GratuityAmount,
		rec.Currency,
		rec.FailureReason,
		rec.Metadata,
		rec.OccurredAt,
		rec.CreatedAt,
	).Error; err != nil {
		return nil, err
	}

	return &rec, nil
}

func (s *Service) ListByInvoice(ctx context.Context, orgID, invoiceID snowflake.ID) ([]ledgerdomain.PaymentRecord, error) {
	if orgID == 0 {
		return nil, ledgerdomain.ErrInvalidOrganization
	}
	if invoiceID == 0 {
		return nil, ledgerdomain.ErrInvalidInvoice
	}

	var records []ledgerdomain.PaymentRecord
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM payment_records
		WHERE org_id = ? AND invoice_id = ?
		ORDER BY occurred_at ASC, id ASC`,
		orgID,
		invoiceID,
	).Scan(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

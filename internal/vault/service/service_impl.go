package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paylink/internal/vault/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Gateway domain.CustomerGateway `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	gateway domain.CustomerGateway
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("vault.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		gateway: p.Gateway,
	}
}

func (s *Service) EnsureCustomer(ctx context.Context, orgID, contactID snowflake.ID, email, name string) (string, error) {
	if orgID == 0 || contactID == 0 {
		return "", domain.ErrInvalidContact
	}

	existing, err := s.repo.FindByContact(ctx, s.db, orgID, contactID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ProviderCustomerID, nil
	}

	if s.gateway == nil {
		return "", domain.ErrNoGateway
	}

	providerCustomerID, err := s.gateway.CreateCustomer(ctx, strings.TrimSpace(email), strings.TrimSpace(name), map[string]string{
		"org_id":     orgID.String(),
		"contact_id": contactID.String(),
	})
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	gc := domain.GatewayCustomer{
		ID:                 s.genID.Generate(),
		OrgID:              orgID,
		ContactID:          contactID,
		Provider:           "stripe",
		ProviderCustomerID: providerCustomerID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Insert(ctx, s.db, &gc); err != nil {
		return "", err
	}

	// The insert is a no-op when a concurrent request won the race; re-read
	// so callers always see the mapping that actually landed.
	stored, err := s.repo.FindByContact(ctx, s.db, orgID, contactID)
	if err != nil {
		return "", err
	}
	if stored == nil {
		return gc.ProviderCustomerID, nil
	}
	if stored.ProviderCustomerID != gc.ProviderCustomerID {
		s.log.Info("discarding duplicate gateway customer",
			zap.String("org_id", orgID.String()),
			zap.String("contact_id", contactID.String()),
		)
	}
	return stored.ProviderCustomerID, nil
}

func (s *Service) FindCustomer(ctx context.Context, orgID, contactID snowflake.ID) (*domain.GatewayCustomer, error) {
	if orgID == 0 || contactID == 0 {
		return nil, domain.ErrInvalidContact
	}
	return s.repo.FindByContact(ctx, s.db, orgID, contactID)
}

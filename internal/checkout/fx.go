package checkout

import (
	checkoutdomain "github.com/smallbiznis/paylink/internal/checkout/domain"
	"github.com/smallbiznis/paylink/internal/checkout/gateway"
	"github.com/smallbiznis/paylink/internal/checkout/service"
	"github.com/smallbiznis/paylink/internal/config"
	vaultdomain "github.com/smallbiznis/paylink/internal/vault/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("checkout.service",
	fx.Provide(func(cfg config.Config, log *zap.Logger) (checkoutdomain.Gateway, vaultdomain.CustomerGateway) {
		if cfg.StripeSecretKey == "" {
			log.Warn("stripe secret key not configured, checkout gateway disabled")
			return nil, nil
		}
		g := gateway.NewStripeGateway(cfg, log)
		return g, g
	}),
	fx.Provide(service.NewService),
)

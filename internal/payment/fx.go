package payment

import (
	"github.com/smallbiznis/paylink/internal/config"
	"github.com/smallbiznis/paylink/internal/payment/adapters"
	"github.com/smallbiznis/paylink/internal/payment/adapters/stripe"
	"github.com/smallbiznis/paylink/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paylink/internal/payment/service"
	"github.com/smallbiznis/paylink/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewAdapter(cfg.StripeWebhookSecret),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

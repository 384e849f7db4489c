package paymenttoken

import (
	"github.com/smallbiznis/paylink/internal/paymenttoken/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymenttoken.service",
	fx.Provide(service.New),
)

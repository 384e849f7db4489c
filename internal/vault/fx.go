package vault

import (
	"github.com/smallbiznis/paylink/internal/vault/repository"
	"github.com/smallbiznis/paylink/internal/vault/service"
	"go.uber.org/fx"
)

var Module = fx.Module("vault.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

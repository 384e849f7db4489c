package notification

import (
	eventservice "github.com/smallbiznis/paylink/internal/event/service"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"notification",
	fx.Provide(
		fx.Annotate(New, fx.As(new(eventservice.Sink))),
	),
)

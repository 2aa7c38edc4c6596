package job

import "go.uber.org/fx"

var Module = fx.Module("job",
	fx.Provide(NewGate, NewService, NewHandler),
	fx.Invoke(RegisterRoutes),
)

package apikey

import (
	"context"

	apikeydomain "github.com/smallbiznis/rentflow/internal/apikey/domain"
	"github.com/smallbiznis/rentflow/internal/apikey/repository"
	"github.com/smallbiznis/rentflow/internal/apikey/service"
	"github.com/smallbiznis/rentflow/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(registerBootstrap),
)

func registerBootstrap(lc fx.Lifecycle, cfg config.Config, svc apikeydomain.Service) {
	if cfg.BootstrapAPIKey == "" {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.EnsureBootstrap(ctx, cfg.BootstrapAPIKey)
		},
	})
}

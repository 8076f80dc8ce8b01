package ingestlog

import (
	"github.com/smallbiznis/rentflow/internal/ingestlog/repository"
	"github.com/smallbiznis/rentflow/internal/ingestlog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingestlog",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

package lease

import (
	"github.com/smallbiznis/rentflow/internal/lease/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("lease",
	fx.Provide(repository.Provide),
)

package payment

import (
	"github.com/smallbiznis/rentflow/internal/broadcast"
	"github.com/smallbiznis/rentflow/internal/config"
	"github.com/smallbiznis/rentflow/internal/payment/account"
	"github.com/smallbiznis/rentflow/internal/payment/adapters"
	"github.com/smallbiznis/rentflow/internal/payment/adapters/jenga"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"github.com/smallbiznis/rentflow/internal/payment/ledger"
	"github.com/smallbiznis/rentflow/internal/payment/repository"
	paymentservice "github.com/smallbiznis/rentflow/internal/payment/service"
	"github.com/smallbiznis/rentflow/internal/payment/status"
	"github.com/smallbiznis/rentflow/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, reconciliation *config.ReconciliationHolder) *adapters.Registry {
		return adapters.NewRegistry(
			jenga.NewAdapter(cfg, reconciliation),
		)
	}),
	fx.Provide(func(b *broadcast.Broadcaster) paymentdomain.Broadcaster { return b }),
	fx.Provide(account.NewResolver),
	fx.Provide(ledger.NewWriter),
	fx.Provide(status.NewAggregator),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

package payment

import (
	paymentdomain "github.com/planfold/planfold/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.provider",
	fx.Provide(func(log *zap.Logger) paymentdomain.Provider {
		return NewNoopProvider(log)
	}),
)

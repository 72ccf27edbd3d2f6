package usage

import (
	"github.com/planfold/planfold/internal/usage/ledger"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.ledger",
	fx.Provide(ledger.New),
)

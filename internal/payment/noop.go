package payment

import (
	"context"

	"github.com/google/uuid"
	paymentdomain "github.com/planfold/planfold/internal/payment/domain"
	"go.uber.org/zap"
)

// NoopProvider satisfies the provider contract without an external account.
// Used for self-hosted deployments and tests; IDs are locally generated.
type NoopProvider struct {
	log *zap.Logger
}

func NewNoopProvider(log *zap.Logger) *NoopProvider {
	return &NoopProvider{log: log.Named("payment.noop")}
}

func (p *NoopProvider) CreateProduct(ctx context.Context, req paymentdomain.CreateProductRequest) (paymentdomain.CreateProductResponse, error) {
	_ = ctx
	id := "prod_" + uuid.NewString()
	p.log.Debug("noop product created", zap.String("product_id", id), zap.String("name", req.Name))
	return paymentdomain.CreateProductResponse{ProductID: id}, nil
}

func (p *NoopProvider) CreatePrice(ctx context.Context, req paymentdomain.CreatePriceRequest) (paymentdomain.CreatePriceResponse, error) {
	_ = ctx
	id := "price_" + uuid.NewString()
	p.log.Debug("noop price created", zap.String("price_id", id), zap.String("product_id", req.ProductID))
	return paymentdomain.CreatePriceResponse{PriceID: id}, nil
}

func (p *NoopProvider) CreateSession(ctx context.Context, req paymentdomain.CreateSessionRequest) (paymentdomain.CreateSessionResponse, error) {
	_ = ctx
	id := "sess_" + uuid.NewString()
	return paymentdomain.CreateSessionResponse{SessionID: id, URL: "https://billing.invalid/session/" + id}, nil
}

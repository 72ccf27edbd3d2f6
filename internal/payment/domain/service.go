// Package domain defines the payment-provider capability consumed by plan
// publishing. The provider is an opaque external collaborator; the hot
// entitlement path never touches it.
package domain

import (
	"context"
	"errors"
)

type CreateProductRequest struct {
	Name        string
	Description string
	Metadata    map[string]string
}

type CreateProductResponse struct {
	ProductID string
}

type CreatePriceRequest struct {
	ProductID     string
	Currency      string
	UnitAmount    int64
	BillingPeriod string
	Metadata      map[string]string
}

type CreatePriceResponse struct {
	PriceID string
}

type CreateSessionRequest struct {
	CustomerEmail string
	PriceIDs      []string
	SuccessURL    string
	CancelURL     string
}

type CreateSessionResponse struct {
	SessionID string
	URL       string
}

type Provider interface {
	CreateProduct(context.Context, CreateProductRequest) (CreateProductResponse, error)
	CreatePrice(context.Context, CreatePriceRequest) (CreatePriceResponse, error)
	CreateSession(context.Context, CreateSessionRequest) (CreateSessionResponse, error)
}

var ErrProviderUnavailable = errors.New("payment_provider_unavailable")

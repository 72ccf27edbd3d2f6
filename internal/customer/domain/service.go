package domain

import (
	"context"
	"errors"

	"github.com/planfold/planfold/pkg/db/pagination"
)

type CreateCustomerRequest struct {
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Currency string         `json:"currency,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type ListCustomerRequest struct {
	PageToken string
	PageSize  int32
}

type ListCustomerResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

type Service interface {
	Create(context.Context, CreateCustomerRequest) (Customer, error)
	GetByID(context.Context, string) (Customer, error)
	List(context.Context, ListCustomerRequest) (ListCustomerResponse, error)
	Delete(context.Context, string) error
}

var (
	ErrInvalidProject          = errors.New("invalid_project")
	ErrInvalidCustomer         = errors.New("invalid_customer")
	ErrInvalidName             = errors.New("invalid_name")
	ErrInvalidEmail            = errors.New("invalid_email")
	ErrCustomerNotFound        = errors.New("customer_not_found")
	ErrActiveSubscriptionsHeld = errors.New("customer_has_active_subscriptions")
)

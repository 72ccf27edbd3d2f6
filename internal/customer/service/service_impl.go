package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/planfold/planfold/internal/customer/domain"
	"github.com/planfold/planfold/internal/projectcontext"
	"github.com/planfold/planfold/pkg/db/option"
	"github.com/planfold/planfold/pkg/db/pagination"
	"github.com/planfold/planfold/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	customerRepo repository.Repository[customerdomain.Customer]
}

func New(p Params) customerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("customer.service"),
		genID: p.GenID,

		customerRepo: repository.ProvideStore[customerdomain.Customer](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req customerdomain.CreateCustomerRequest) (customerdomain.Customer, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return customerdomain.Customer{}, customerdomain.ErrInvalidProject
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return customerdomain.Customer{}, customerdomain.ErrInvalidName
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return customerdomain.Customer{}, customerdomain.ErrInvalidEmail
	}

	now := time.Now().UTC()
	customer := customerdomain.Customer{
		ID:        s.genID.Generate(),
		ProjectID: projectID,
		Name:      name,
		Email:     email,
		Currency:  strings.TrimSpace(req.Currency),
		Metadata:  datatypes.JSONMap{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Metadata != nil {
		customer.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.customerRepo.Create(ctx, &customer); err != nil {
		return customerdomain.Customer{}, err
	}

	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (customerdomain.Customer, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return customerdomain.Customer{}, customerdomain.ErrInvalidProject
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || customerID == 0 {
		return customerdomain.Customer{}, customerdomain.ErrInvalidCustomer
	}

	customer, err := s.customerRepo.FindOne(ctx, &customerdomain.Customer{ID: customerID, ProjectID: projectID})
	if err != nil {
		return customerdomain.Customer{}, err
	}
	if customer == nil {
		return customerdomain.Customer{}, customerdomain.ErrCustomerNotFound
	}

	return *customer, nil
}

func (s *Service) List(ctx context.Context, req customerdomain.ListCustomerRequest) (customerdomain.ListCustomerResponse, error) {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return customerdomain.ListCustomerResponse{}, customerdomain.ErrInvalidProject
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.customerRepo.Find(ctx, &customerdomain.Customer{ProjectID: projectID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.WithQuerySortBy("created_at", "desc", map[string]bool{"created_at": true})),
	)
	if err != nil {
		return customerdomain.ListCustomerResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(customer *customerdomain.Customer) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        customer.ID.String(),
			CreatedAt: customer.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	customers := make([]customerdomain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		customers = append(customers, *item)
	}

	resp := customerdomain.ListCustomerResponse{Customers: customers}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Delete removes a customer. Customers holding active subscriptions cannot be
// deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	projectID, ok := projectcontext.ProjectIDFromContext(ctx)
	if !ok || projectID == 0 {
		return customerdomain.ErrInvalidProject
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || customerID == 0 {
		return customerdomain.ErrInvalidCustomer
	}

	var activeCount int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscriptions WHERE project_id = ? AND customer_id = ? AND status = ?`,
		projectID,
		customerID,
		"active",
	).Scan(&activeCount).Error; err != nil {
		return err
	}
	if activeCount > 0 {
		return customerdomain.ErrActiveSubscriptionsHeld
	}

	return s.db.WithContext(ctx).Exec(
		`DELETE FROM customers WHERE project_id = ? AND id = ?`,
		projectID,
		customerID,
	).Error
}

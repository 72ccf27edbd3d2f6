package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/planfold/planfold/internal/customer/domain"
	entdomain "github.com/planfold/planfold/internal/entitlement/domain"
	featuredomain "github.com/planfold/planfold/internal/feature/domain"
	plandomain "github.com/planfold/planfold/internal/plan/domain"
	subdomain "github.com/planfold/planfold/internal/subscription/domain"
	usagedomain "github.com/planfold/planfold/internal/usage/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrTooManyRequests = errors.New("too_many_requests")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, subdomain.ErrFeatureOverlap):
		return http.StatusConflict, errorPayload{
			Type:    "feature_overlap",
			Message: err.Error(),
		}
	case errors.Is(err, featuredomain.ErrFeatureExists),
		errors.Is(err, customerdomain.ErrActiveSubscriptionsHeld),
		errors.Is(err, plandomain.ErrPlanVersionPublished),
		errors.Is(err, subdomain.ErrSubscriptionEnded):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, customerdomain.ErrInvalidCustomer),
		errors.Is(err, customerdomain.ErrInvalidName),
		errors.Is(err, customerdomain.ErrInvalidEmail),
		errors.Is(err, featuredomain.ErrInvalidSlug),
		errors.Is(err, featuredomain.ErrInvalidTitle),
		errors.Is(err, plandomain.ErrInvalidPlan),
		errors.Is(err, plandomain.ErrInvalidPlanVersion),
		errors.Is(err, plandomain.ErrInvalidSlug),
		errors.Is(err, plandomain.ErrInvalidTitle),
		errors.Is(err, plandomain.ErrInvalidCurrency),
		errors.Is(err, plandomain.ErrInvalidBillingPeriod),
		errors.Is(err, plandomain.ErrInvalidFeatureType),
		errors.Is(err, plandomain.ErrPlanVersionNoFeatures),
		errors.Is(err, subdomain.ErrInvalidCustomer),
		errors.Is(err, subdomain.ErrInvalidPlanVersion),
		errors.Is(err, subdomain.ErrInvalidQuantity),
		errors.Is(err, subdomain.ErrPlanVersionNotPublished),
		errors.Is(err, entdomain.ErrInvalidCustomer),
		errors.Is(err, entdomain.ErrInvalidFeature),
		errors.Is(err, entdomain.ErrInvalidDelta),
		errors.Is(err, entdomain.ErrFeatureNotMetered),
		errors.Is(err, usagedomain.ErrInvalidDelta),
		errors.Is(err, usagedomain.ErrInvalidPeriod):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, customerdomain.ErrCustomerNotFound),
		errors.Is(err, featuredomain.ErrFeatureNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, plandomain.ErrPlanVersionNotFound),
		errors.Is(err, plandomain.ErrFeatureNotFound),
		errors.Is(err, subdomain.ErrCustomerNotFound),
		errors.Is(err, subdomain.ErrPlanVersionNotFound),
		errors.Is(err, subdomain.ErrSubscriptionNotFound):
		return true
	default:
		return false
	}
}

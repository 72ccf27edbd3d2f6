// Package projectcontext carries the active project ID through request
// contexts. Every customer, plan, and subscription row is scoped to a project.
package projectcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// ProjectContextKey is the request context key for the active project ID.
type ProjectContextKey struct{}

// WithProjectID stores the project ID in the context.
func WithProjectID(ctx context.Context, projectID int64) context.Context {
	return context.WithValue(ctx, ProjectContextKey{}, projectID)
}

// ProjectIDFromContext returns the project ID from context, if set.
func ProjectIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(ProjectContextKey{})
	if value == nil {
		return 0, false
	}

	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/planfold/planfold/internal/config"
	"github.com/planfold/planfold/internal/projectcontext"
)

const projectHeader = "X-Project-ID"

// ProjectMiddleware scopes the request to a project. The header wins;
// without it the configured default project applies.
func ProjectMiddleware(cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := cfg.DefaultProjectID
		if raw := strings.TrimSpace(c.GetHeader(projectHeader)); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				AbortWithError(c, newValidationError("project_id", "invalid_project", "invalid project id"))
				return
			}
			projectID = parsed
		}

		ctx := projectcontext.WithProjectID(c.Request.Context(), projectID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Package seed ensures the default project exists so single-tenant
// deployments work without an explicit provisioning step.
package seed

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/planfold/planfold/internal/config"
	projectdomain "github.com/planfold/planfold/internal/project/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func Run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DefaultProjectID == 0 {
		return nil
	}

	now := time.Now().UTC()
	project := projectdomain.Project{
		ID:        snowflake.ID(cfg.DefaultProjectID),
		Slug:      "default",
		Title:     "Default Project",
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&project).Error
	if err != nil {
		return err
	}

	log.Named("seed").Info("default project ensured",
		zap.Int64("project_id", cfg.DefaultProjectID),
	)
	return nil
}

var Module = fx.Module("seed",
	fx.Invoke(Run),
)

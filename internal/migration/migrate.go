// Package migration applies the embedded schema migrations on startup.
package migration

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/planfold/planfold/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var migrations embed.FS

// Run applies all pending up migrations. A database already at the latest
// version is not an error.
func Run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	var driver database.Driver
	switch cfg.DBType {
	case "postgres":
		driver, err = migratepostgres.WithInstance(sqlDB, &migratepostgres.Config{})
	case "mysql":
		driver, err = migratemysql.WithInstance(sqlDB, &migratemysql.Config{})
	case "sqlite":
		driver, err = migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	default:
		return fmt.Errorf("unsupported database type %q", cfg.DBType)
	}
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations, "sql")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, cfg.DBName, driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("schema up to date")
			return nil
		}
		return err
	}

	version, _, err := m.Version()
	if err != nil {
		return err
	}
	log.Info("schema migrated", zap.Uint("version", version))
	return nil
}

var Module = fx.Module("migration",
	fx.Invoke(Run),
)

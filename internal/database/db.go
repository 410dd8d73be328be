package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vatledger/engine/internal/config"
	"github.com/vatledger/engine/internal/logger"
	"github.com/vatledger/engine/internal/model"
)

// NewConnection initializes a new Postgres connection pool using GORM
func NewConnection(cfg config.DatabaseConfig, l *zap.Logger) (*gorm.DB, error) {
	return Open(postgres.Open(cfg.DSN()), cfg, l)
}

// Open connects through any GORM dialector, applies the pool settings and
// migrates the schema when cfg.AutoMigrate is set.
func Open(dialector gorm.Dialector, cfg config.DatabaseConfig, l *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLogger(l, logger.GormLevel(cfg.LogLevel), cfg.SlowThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		l.Info("Database schema migrated", zap.Int("models", len(model.All())))
	}
	return db, nil
}

// Migrate creates or updates every table the engine owns or reads.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return nil
}

package db

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"shopqueue-backend/config"
	"shopqueue-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if cfg.EnablePostGIS {
		log.Info("PostGIS is enabled, applying geography DDL")
		if err := applyPostGISDDL(db); err != nil {
			return nil, err
		}
	}

	log.Info("database initialization complete")
	return db, nil
}

// Migrate creates or updates the catalog, live status, subscription and
// appointment tables.
func Migrate(db *gorm.DB) error {
	log.Info("running database migrations")
	if err := db.AutoMigrate(
		&model.Provider{},
		&model.LiveStatus{},
		&model.PushSubscription{},
		&model.Appointment{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// postGISDDL adds a geography column derived from latitude/longitude and the
// GIST index that ST_DWithin uses.
var postGISDDL = []string{
	"CREATE EXTENSION IF NOT EXISTS postgis;",

	"ALTER TABLE providers ADD COLUMN IF NOT EXISTS location geography(Point, 4326) " +
		"GENERATED ALWAYS AS (ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography) STORED;",

	"CREATE INDEX IF NOT EXISTS idx_providers_location ON providers USING GIST (location);",
}

func applyPostGISDDL(db *gorm.DB) error {
	for _, ddl := range postGISDDL {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

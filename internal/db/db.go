package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"planter-backend/config"
	"planter-backend/internal/model"
)

// Models lists every table the service owns, in migration order.
func Models() []any {
	return []any{
		&model.User{},
		&model.Plot{},
		&model.SensorReading{},
		&model.IrrigationSettings{},
		&model.PushSubscription{},
	}
}

// Open connects to the configured database without migrating.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows one writer; a single connection keeps transactions serial.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

// Init opens the database and runs migrations.
func Init(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	log.Info("Running database migrations", zap.String("driver", cfg.Driver))
	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	if cfg.EnableTimescale && cfg.Driver == "postgres" {
		log.Info("TimescaleDB is enabled, applying TimescaleDB-specific DDL")
		if err := applyTimescaleDDL(db); err != nil {
			log.Warn("Failed to apply some TimescaleDB DDL, continuing without them", zap.Error(err))
		}
	}

	log.Info("Database initialization complete")
	return db, nil
}

func applyTimescaleDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE EXTENSION IF NOT EXISTS timescaledb;",

		// hypertables need the time column in every unique index
		`ALTER TABLE sensor_readings DROP CONSTRAINT IF EXISTS sensor_readings_pkey;`,
		`ALTER TABLE sensor_readings ADD PRIMARY KEY (id, "timestamp");`,

		`SELECT create_hypertable('sensor_readings', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE);`,
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/tastemap/internal/logging"
	"github.com/MarcoPoloResearchLab/tastemap/internal/restaurants"
	"github.com/MarcoPoloResearchLab/tastemap/internal/reviews"
	"github.com/MarcoPoloResearchLab/tastemap/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and tunes the database connection.
type Options struct {
	Driver       string
	Path         string
	DSN          string
	MaxOpenConns int
	Logger       *zap.Logger
}

// Open connects with the configured driver and brings the schema up to date.
func Open(opts Options) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case DriverSQLite, "":
		return OpenSQLite(opts.Path, opts.Logger)
	case DriverPostgres:
		return OpenPostgres(opts.DSN, opts.MaxOpenConns, opts.Logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig(logger))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", DriverSQLite), zap.String("path", path))
	}

	return db, nil
}

// OpenPostgres connects to a PostGIS-enabled PostgreSQL server and performs schema migrations.
func OpenPostgres(dsn string, maxOpenConns int, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(logger))
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxOpenConns)
	}

	if err := migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", DriverPostgres))
	}

	return db, nil
}

func gormConfig(logger *zap.Logger) *gorm.Config {
	return &gorm.Config{
		Logger:                 logging.NewGormLogger(logger, logging.DefaultSlowQueryThreshold),
		SkipDefaultTransaction: true,
	}
}

// migrate runs the pre-schema migrations, the model auto-migration and the post-schema
// migrations in that order.
func migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return err
	}
	if err := applyMigrations(db, logger, phaseBeforeSchema); err != nil {
		return err
	}
	if err := db.AutoMigrate(&restaurants.Restaurant{}, &reviews.Review{}, &users.ReviewerIdentity{}); err != nil {
		return err
	}
	return applyMigrations(db, logger, phaseAfterSchema)
}

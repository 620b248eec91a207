package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationEnablePostGIS        = "2026-09-01_enable_postgis"
	migrationRestaurantsGistIndex = "2026-09-01_restaurants_location_gist"
	migrationReviewImagesDefault  = "2026-09-14_review_images_default"
	migrationReviewsRestaurantFK  = "2026-10-02_reviews_restaurant_fk"

	reviewsRestaurantFKName = "fk_reviews_restaurant"
)

type migrationPhase int

const (
	phaseBeforeSchema migrationPhase = iota
	phaseAfterSchema
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name    string
	phase   migrationPhase
	drivers []string
	apply   func(*gorm.DB) error
}

var migrations = []migrationDefinition{
	{
		name:    migrationEnablePostGIS,
		phase:   phaseBeforeSchema,
		drivers: []string{DriverPostgres},
		apply: func(db *gorm.DB) error {
			return db.Exec("CREATE EXTENSION IF NOT EXISTS postgis").Error
		},
	},
	{
		name:    migrationRestaurantsGistIndex,
		phase:   phaseAfterSchema,
		drivers: []string{DriverPostgres},
		apply: func(db *gorm.DB) error {
			return db.Exec("CREATE INDEX IF NOT EXISTS idx_restaurants_location ON restaurants USING GIST (location)").Error
		},
	},
	{
		name:  migrationReviewImagesDefault,
		phase: phaseAfterSchema,
		apply: repairReviewImages,
	},
	{
		name:    migrationReviewsRestaurantFK,
		phase:   phaseAfterSchema,
		drivers: []string{DriverPostgres},
		apply:   addReviewsRestaurantForeignKey,
	},
}

func applyMigrations(db *gorm.DB, logger *zap.Logger, phase migrationPhase) error {
	driver := db.Dialector.Name()
	for _, migration := range migrations {
		if migration.phase != phase || !migration.supports(driver) {
			continue
		}
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func (m migrationDefinition) supports(driver string) bool {
	if len(m.drivers) == 0 {
		return true
	}
	for _, candidate := range m.drivers {
		if candidate == driver {
			return true
		}
	}
	return false
}

// repairReviewImages replaces missing image lists with an empty JSON array so enrichment
// filters see a well-formed array on every row.
func repairReviewImages(db *gorm.DB) error {
	return db.Exec("UPDATE reviews SET images = '[]' WHERE images IS NULL").Error
}

// addReviewsRestaurantForeignKey ties every review to an existing restaurant; deleting a
// reviewed restaurant is rejected.
func addReviewsRestaurantForeignKey(db *gorm.DB) error {
	var existing int64
	err := db.Raw("SELECT COUNT(*) FROM pg_constraint WHERE conname = ?", reviewsRestaurantFKName).Scan(&existing).Error
	if err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}
	return db.Exec("ALTER TABLE reviews ADD CONSTRAINT " + reviewsRestaurantFKName +
		" FOREIGN KEY (restaurant_id) REFERENCES restaurants(id) ON DELETE RESTRICT").Error
}

package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeRoomSlugs  = "2026-09-14_normalize_room_slugs"
	migrationDropOrphanShapeRows = "2026-10-02_drop_orphan_shape_rows"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeRoomSlugs, apply: normalizeRoomSlugs},
		{name: migrationDropOrphanShapeRows, apply: dropOrphanShapeRows},
	}

	for _, migration := range migrations {
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

// Slugs written before lookups were case-insensitive may carry padding or capitals.
func normalizeRoomSlugs(db *gorm.DB) error {
	return db.Exec("UPDATE rooms SET slug = lower(trim(slug)) WHERE slug <> lower(trim(slug))").Error
}

func dropOrphanShapeRows(db *gorm.DB) error {
	return db.Exec("DELETE FROM room_shapes WHERE room_id NOT IN (SELECT id FROM rooms)").Error
}

package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/drawr/internal/rooms"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesSlugsAndDropsOrphans(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&rooms.Room{}, &rooms.Membership{}, &rooms.ShapeRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	room := rooms.Room{Slug: " Board ", OwnerID: "user-1", CreatedAtSeconds: 1}
	if err := database.Create(&room).Error; err != nil {
		testContext.Fatalf("failed to insert room: %v", err)
	}
	kept := rooms.ShapeRecord{RoomID: room.ID, ShapeID: 1, PayloadJSON: "{}", CreatedAtSeconds: 1}
	orphan := rooms.ShapeRecord{RoomID: room.ID + 50, ShapeID: 2, PayloadJSON: "{}", CreatedAtSeconds: 1}
	if err := database.Create(&[]rooms.ShapeRecord{kept, orphan}).Error; err != nil {
		testContext.Fatalf("failed to insert shapes: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored rooms.Room
	if err := database.Where("id = ?", room.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload room: %v", err)
	}
	if stored.Slug != "board" {
		testContext.Fatalf("expected normalized slug, got %q", stored.Slug)
	}

	var remaining int64
	if err := database.Model(&rooms.ShapeRecord{}).Count(&remaining).Error; err != nil {
		testContext.Fatalf("failed to count shapes: %v", err)
	}
	if remaining != 1 {
		testContext.Fatalf("expected orphan shape to be dropped, %d rows remain", remaining)
	}

	for _, name := range []string{migrationNormalizeRoomSlugs, migrationDropOrphanShapeRows} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected re-run to be a no-op: %v", err)
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected missing path error")
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "drawr.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"rooms", "room_memberships", "room_shapes", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
}

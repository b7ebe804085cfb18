package migrations

import (
	"github.com/jmylchreest/vidpace/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns every migration in version order.
//   - 001: runs, stream_results and snapshots tables
//   - 002: time-ordered snapshot index per run
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002SnapshotTimeIndex(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create run tables",
		Up: func(tx *gorm.DB) error {
			// Parents first for the foreign keys.
			return tx.AutoMigrate(
				&models.Run{},
				&models.StreamResult{},
				&models.Snapshot{},
			)
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&models.Snapshot{},
				&models.StreamResult{},
				&models.Run{},
			)
		},
	}
}

const snapshotTimeIndex = "idx_snapshots_run_taken"

func migration002SnapshotTimeIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Add snapshot time index",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.Snapshot{}, snapshotTimeIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + snapshotTimeIndex + " ON snapshots (run_id, taken_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropIndex(&models.Snapshot{}, snapshotTimeIndex)
		},
	}
}

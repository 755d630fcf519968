package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRepairSmartLinkCounts = "2025-10-20_repair_smartlink_counts"
	migrationPruneOrphanAnalytics  = "2025-10-20_prune_orphan_analytics"
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
		{name: migrationRepairSmartLinkCounts, apply: repairSmartLinkCounts},
		{name: migrationPruneOrphanAnalytics, apply: pruneOrphanAnalytics},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// repairSmartLinkCounts recomputes the per-account quota counter from the stored links.
func repairSmartLinkCounts(db *gorm.DB) error {
	return db.Exec(`UPDATE accounts SET smartlinks_count = (
		SELECT COUNT(*) FROM smartlinks WHERE smartlinks.user_id = accounts.user_id
	)`).Error
}

// pruneOrphanAnalytics drops counter records whose SmartLink no longer exists. A click racing
// a delete can leave one behind.
func pruneOrphanAnalytics(db *gorm.DB) error {
	return db.Exec(`DELETE FROM smartlink_analytics WHERE smartlink_id NOT IN (SELECT id FROM smartlinks)`).Error
}

package database

import (
	"errors"
	"time"

	"github.com/reviewlab/reviewlab/internal/alarms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeAlarmTypes = "2026-07-14_normalize_alarm_types"

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
		{name: migrationNormalizeAlarmTypes, apply: normalizeAlarmTypes},
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

// normalizeAlarmTypes rewrites pre-dotted legacy type values into the current
// closed enumeration so prefix partitioning holds for old rows.
func normalizeAlarmTypes(db *gorm.DB) error {
	legacy := map[string]alarms.AlarmType{
		"newComment":      alarms.TypeNewComment,
		"newReply":        alarms.TypeNewReply,
		"reviewRequired":  alarms.TypeReviewRequired,
		"groupInvite":     alarms.TypeGroupInvite,
		"groupRejected":   alarms.TypeGroupInviteRejected,
		"joinApplication": alarms.TypeGroupJoinApplication,
	}
	for old, current := range legacy {
		if err := db.Model(&alarms.Alarm{}).
			Where("alarm_type = ?", old).
			Update("alarm_type", string(current)).Error; err != nil {
			return err
		}
	}
	return nil
}

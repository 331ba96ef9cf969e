package database

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/assembler"
	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillJourneySummaries = "2024-06-01_backfill_journey_summaries"

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
		{name: migrationBackfillJourneySummaries, apply: backfillJourneySummaries},
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

// backfillJourneySummaries derives the filter columns from journey_data for rows that carry
// only the payload, such as rows loaded into assembled_journeys by a direct SQL import.
func backfillJourneySummaries(db *gorm.DB) error {
	var records []assembler.JourneyRecord
	if err := db.Where("customer_id = ''").Find(&records).Error; err != nil {
		return err
	}
	for _, record := range records {
		var journey journeys.Journey
		if err := json.Unmarshal([]byte(record.JourneyData), &journey); err != nil {
			return err
		}
		err := db.Model(&assembler.JourneyRecord{}).
			Where("journey_id = ?", record.JourneyID).
			Updates(map[string]any{
				"customer_id":      journey.CustomerID,
				"customer_type":    string(journey.CustomerType),
				"confidence_score": journey.ConfidenceScore,
				"start_at_s":       journey.StartTimestamp.Unix(),
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

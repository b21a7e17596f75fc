package storage

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"paper-tutor/models"
)

// SchemaVersion ist die Zielversion des Schemas. Jede Version über dem
// gespeicherten Stand wird genau einmal angewandt; ein erneuter Lauf auf
// aktuellem Stand ist ein No-Op.
const SchemaVersion = 2

type migrationStep struct {
	version int
	apply   func(tx *gorm.DB) error
}

var migrationSteps = []migrationStep{
	{version: 1, apply: createCoreSchema},
	{version: 2, apply: addFeedbackAndCosts},
}

// Migrate bringt das Schema auf SchemaVersion. Alle ausstehenden Schritte
// laufen in einer einzigen Transaktion; schlägt einer fehl, wird der ganze
// Lauf zurückgerollt und der Store bleibt auf dem alten Stand.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&models.SchemaMigration{}); err != nil {
		return classifyOpenErr(err)
	}

	var current int
	err := s.db.Model(&models.SchemaMigration{}).
		Select("COALESCE(MAX(version), 0)").
		Scan(&current).Error
	if err != nil {
		return classifyOpenErr(err)
	}
	if current >= SchemaVersion {
		return nil
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, step := range migrationSteps {
			if step.version <= current {
				continue
			}
			if err := step.apply(tx); err != nil {
				return fmt.Errorf("migration v%d: %w", step.version, err)
			}
			record := models.SchemaMigration{Version: step.version, AppliedAt: time.Now()}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("migration v%d: %w", step.version, err)
			}
			s.log.Info("Schema-Migration angewandt", zap.Int("version", step.version))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return nil
}

// createCoreSchema legt die Kerntabellen der ersten Schemaversion an.
func createCoreSchema(tx *gorm.DB) error {
	return tx.AutoMigrate(
		&models.Paper{},
		&models.Question{},
		&models.Answer{},
		&models.Settings{},
		&models.Stats{},
		&models.HistoryEntry{},
	)
}

// addFeedbackAndCosts ergänzt Feedback- und Kostentabellen und füllt die
// Lese-Buchhaltung älterer Paper-Datensätze mit Standardwerten auf.
func addFeedbackAndCosts(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&models.Feedback{}, &models.CostEntry{}); err != nil {
		return err
	}
	for _, stmt := range []string{
		"UPDATE papers SET times_read = 0 WHERE times_read IS NULL",
		"UPDATE papers SET questions_generated = 0 WHERE questions_generated IS NULL",
	} {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

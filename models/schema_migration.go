package models

import "time"

// SchemaMigration hält fest, welche Schema-Version bereits angewendet wurde.
type SchemaMigration struct {
	Version   int       `json:"version" gorm:"primaryKey"`
	AppliedAt time.Time `json:"applied_at"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (SchemaMigration) TableName() string {
	return "schema_migrations"
}

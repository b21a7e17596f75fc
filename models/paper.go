package models

import (
	"time"

	"gorm.io/datatypes"
)

// Paper repräsentiert eine wissenschaftliche Studie und deren Metadaten.
// Die ID ist die extern vergebene arXiv-ID (z.B. "2301.00001").
type Paper struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title    string                      `json:"title"`
	Authors  datatypes.JSONSlice[string] `json:"authors"`
	Abstract string                      `json:"abstract,omitempty" gorm:"type:text"`
	URL      string                      `json:"url,omitempty"`
	DOI      string                      `json:"doi,omitempty"`
	Journal  string                      `json:"journal,omitempty"`

	Topics      datatypes.JSONSlice[string] `json:"topics"`
	PublishedAt *time.Time                  `json:"published_at,omitempty" gorm:"index"`

	// Anreicherung über Semantic Scholar (best effort).
	Citations *int                        `json:"citations,omitempty"`
	Findings  datatypes.JSONSlice[string] `json:"findings"`

	// Lokale Lese-Buchhaltung, wird vom Store gepflegt.
	LastRead           *time.Time `json:"last_read,omitempty"`
	TimesRead          int        `json:"times_read"`
	QuestionsGenerated bool       `json:"questions_generated"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Paper) TableName() string {
	return "papers"
}

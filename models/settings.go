package models

import (
	"time"

	"gorm.io/datatypes"
)

// SettingsKey ist der Primärschlüssel des einzigen Settings-Datensatzes.
const SettingsKey = "user-settings"

// Settings sind die nutzerdefinierten Einstellungen der Anwendung.
type Settings struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UpdatedAt time.Time `json:"updated_at"`

	PreferredTopics     datatypes.JSONSlice[string] `json:"preferred_topics"`
	PrefetchCount       int                         `json:"prefetch_count"`
	ReviewIntervalDays  int                         `json:"review_interval_days"`
	DailyQuestionTarget int                         `json:"daily_question_target"`
	QuestionKeywords    datatypes.JSONSlice[string] `json:"question_keywords"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Settings) TableName() string {
	return "settings"
}

// Clamp begrenzt alle numerischen Einstellungen auf ihre erlaubten Bereiche.
func (s *Settings) Clamp() {
	s.PrefetchCount = clamp(s.PrefetchCount, 1, 20)
	s.ReviewIntervalDays = clamp(s.ReviewIntervalDays, 1, 30)
	s.DailyQuestionTarget = clamp(s.DailyQuestionTarget, 1, 50)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DefaultSettings liefert die Standardeinstellungen.
func DefaultSettings() *Settings {
	return &Settings{
		ID:                  SettingsKey,
		PreferredTopics:     datatypes.NewJSONSlice([]string{}),
		PrefetchCount:       5,
		ReviewIntervalDays:  7,
		DailyQuestionTarget: 10,
		QuestionKeywords:    datatypes.NewJSONSlice([]string{}),
	}
}

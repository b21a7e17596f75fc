package models

import (
	"time"

	"gorm.io/datatypes"
)

// StatsKey ist der Primärschlüssel des einzigen Stats-Datensatzes.
const StatsKey = "user-stats"

// Stats ist der einzelne Aggregat-Datensatz über alle beantworteten Fragen.
// AverageConfidence und TopicAccuracy sind inkrementelle gewichtete Mittel;
// eine Neuberechnung aus der Historie muss dieselben Werte reproduzieren.
type Stats struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UpdatedAt time.Time `json:"updated_at"`

	QuestionsAnswered int       `json:"questions_answered"`
	AverageConfidence float64   `json:"average_confidence"`
	Streak            int       `json:"streak"`
	LastActive        time.Time `json:"last_active"`

	TopicAccuracy datatypes.JSONType[map[string]float64] `json:"topic_accuracy"`
	// TopicCounts ist der explizite Zähler pro Topic, der die fragile
	// Präfix-Heuristik über Frage-IDs ersetzt.
	TopicCounts datatypes.JSONType[map[string]int] `json:"topic_counts"`

	PapersRead datatypes.JSONSlice[string] `json:"papers_read"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Stats) TableName() string {
	return "stats"
}

// HistoryEntry ist ein denormalisierter Eintrag der Antwort-Historie.
type HistoryEntry struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	QuestionID string    `json:"question_id" gorm:"index"`
	PaperID    string    `json:"paper_id" gorm:"index"`
	Answer     string    `json:"answer"`
	IsCorrect  bool      `json:"is_correct"`
	Confidence int       `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (HistoryEntry) TableName() string {
	return "question_history"
}

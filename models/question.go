package models

import (
	"time"

	"gorm.io/datatypes"
)

// Gültige Antworten und Fragetypen als feste Enumerationen.
const (
	AnswerIncreased = "increased"
	AnswerDecreased = "decreased"
	AnswerUnchanged = "unchanged"
)

const (
	QuestionTypeMethodology  = "methodology"
	QuestionTypeFindings     = "findings"
	QuestionTypeImplications = "implications"
	QuestionTypeLimitations  = "limitations"
	QuestionTypePredictive   = "predictive"
)

// EnumAnswers listet die drei erlaubten Antwortwerte auf.
var EnumAnswers = []string{AnswerIncreased, AnswerDecreased, AnswerUnchanged}

// Question ist eine generierte Vorhersage-Frage zu genau einem Paper.
// Die ID wird deterministisch aus Paper-ID und Ordinalindex gebildet
// (z.B. "2301.00001-3"), damit wiederholte Generierung stabil bleibt.
type Question struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	PaperID string `json:"paper_id" gorm:"index"`
	Text    string `json:"text" gorm:"type:text"`
	Type    string `json:"type" gorm:"index"`
	Context string `json:"context,omitempty" gorm:"type:text"`

	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation" gorm:"type:text"`

	Tags datatypes.JSONSlice[string] `json:"tags"`

	LastAnswered *time.Time `json:"last_answered,omitempty" gorm:"index"`

	NeedsRevision  bool   `json:"needs_revision"`
	RevisionReason string `json:"revision_reason,omitempty"`

	Answers  []Answer   `json:"answers,omitempty" gorm:"foreignKey:QuestionID"`
	Feedback []Feedback `json:"feedback,omitempty" gorm:"foreignKey:QuestionID"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Question) TableName() string {
	return "questions"
}

// Answered meldet, ob mindestens ein Antwortversuch vorliegt.
func (q *Question) Answered() bool {
	return len(q.Answers) > 0
}

// Answer ist ein einzelner Antwortversuch auf eine Frage.
type Answer struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	QuestionID string    `json:"question_id" gorm:"index;not null"`
	Answer     string    `json:"answer"`
	IsCorrect  bool      `json:"is_correct"`
	Confidence int       `json:"confidence"` // 0-100
	CreatedAt  time.Time `json:"created_at"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Answer) TableName() string {
	return "answers"
}

// Gültige Feedback-Kategorien.
const (
	FeedbackTooSpecific     = "too_specific"
	FeedbackNotPredictive   = "not_predictive"
	FeedbackReferencesPaper = "references_paper"
	FeedbackUnclear         = "unclear"
	FeedbackOther           = "other"
)

// Feedback ist eine Nutzer-Rückmeldung zur Qualität einer Frage.
type Feedback struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	QuestionID string    `json:"question_id" gorm:"index;not null"`
	Category   string    `json:"category"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (Feedback) TableName() string {
	return "question_feedback"
}

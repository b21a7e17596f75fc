package models

import "time"

// CostEntry protokolliert die geschätzten Kosten eines einzelnen LLM-Aufrufs.
type CostEntry struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	CreatedAt    time.Time `json:"created_at"`
	Operation    string    `json:"operation" gorm:"index"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
}

// TableName gibt den expliziten Tabellennamen für GORM an.
func (CostEntry) TableName() string {
	return "llm_costs"
}

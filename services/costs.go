package services

import (
	"go.uber.org/zap"

	"paper-tutor/anthropic"
	"paper-tutor/models"
	"paper-tutor/storage"
)

// Preise in USD pro Million Tokens. Unbekannte Modelle werden mit den
// Sonnet-Preisen gerechnet, damit die Summe eher über- als unterschätzt.
var modelPricing = map[string]struct{ input, output float64 }{
	"claude-3-5-sonnet-20241022": {input: 3.0, output: 15.0},
	"claude-3-5-haiku-20241022":  {input: 0.8, output: 4.0},
}

const defaultPricingModel = "claude-3-5-sonnet-20241022"

// CostService protokolliert den Token-Verbrauch aller LLM-Aufrufe.
// Protokollierung ist best-effort: ein fehlgeschlagener Kosteneintrag darf
// die eigentliche Operation nie kippen.
type CostService struct {
	Store  *storage.Store
	Logger *zap.Logger
}

// NewCostService erstellt einen neuen CostService.
func NewCostService(store *storage.Store, logger *zap.Logger) *CostService {
	return &CostService{Store: store, Logger: logger}
}

// Record verbucht einen Aufruf.
func (c *CostService) Record(operation, model string, usage anthropic.Usage) {
	pricing, ok := modelPricing[model]
	if !ok {
		pricing = modelPricing[defaultPricingModel]
	}
	cost := float64(usage.InputTokens)/1e6*pricing.input +
		float64(usage.OutputTokens)/1e6*pricing.output

	entry := &models.CostEntry{
		Operation:    operation,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         cost,
	}
	if err := c.Store.AddCost(entry); err != nil {
		c.Logger.Warn("Kosteneintrag konnte nicht gespeichert werden", zap.Error(err))
	}
}

// Summary fasst alle Kosteneinträge zusammen.
type Summary struct {
	TotalCost    float64            `json:"total_cost"`
	TotalCalls   int                `json:"total_calls"`
	InputTokens  int                `json:"input_tokens"`
	OutputTokens int                `json:"output_tokens"`
	ByOperation  map[string]float64 `json:"by_operation"`
}

// Totals berechnet die Gesamtkosten aus dem Protokoll.
func (c *CostService) Totals() (*Summary, error) {
	entries, err := c.Store.Costs()
	if err != nil {
		return nil, err
	}
	summary := &Summary{ByOperation: make(map[string]float64)}
	for _, e := range entries {
		summary.TotalCost += e.Cost
		summary.TotalCalls++
		summary.InputTokens += e.InputTokens
		summary.OutputTokens += e.OutputTokens
		summary.ByOperation[e.Operation] += e.Cost
	}
	return summary, nil
}

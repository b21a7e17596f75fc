package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"paper-tutor/anki"
	"paper-tutor/storage"
)

// ExportService schiebt Fragen als Karten nach Anki. Vor jedem Export wird
// die lokale AnkiConnect-Instanz angepingt; ist sie nicht erreichbar, kommt
// ein klarer Fehler statt eines hängenden Requests.
type ExportService struct {
	Store  *storage.Store
	Anki   *anki.Client
	Logger *zap.Logger
}

// NewExportService erstellt einen neuen ExportService.
func NewExportService(store *storage.Store, client *anki.Client, logger *zap.Logger) *ExportService {
	return &ExportService{Store: store, Anki: client, Logger: logger}
}

// ExportQuestion legt eine einzelne Frage als Karte an.
func (e *ExportService) ExportQuestion(ctx context.Context, questionID string) error {
	if err := e.Anki.Ping(ctx); err != nil {
		return fmt.Errorf("anki not reachable: %w", err)
	}
	question, err := e.Store.GetQuestion(questionID)
	if err != nil {
		return err
	}
	if question == nil {
		return fmt.Errorf("question %q: %w", questionID, ErrNotFound)
	}
	paper, err := e.Store.GetPaper(question.PaperID)
	if err != nil {
		return err
	}
	return e.Anki.AddCard(ctx, question, paper)
}

// ExportPaper exportiert alle Fragen eines Papers. Einzelne Duplikate
// brechen den Export nicht ab.
func (e *ExportService) ExportPaper(ctx context.Context, paperID string) (int, error) {
	if err := e.Anki.Ping(ctx); err != nil {
		return 0, fmt.Errorf("anki not reachable: %w", err)
	}
	questions, err := e.Store.QuestionsByPaper(paperID)
	if err != nil {
		return 0, err
	}
	paper, err := e.Store.GetPaper(paperID)
	if err != nil {
		return 0, err
	}

	exported := 0
	for i := range questions {
		if err := e.Anki.AddCard(ctx, &questions[i], paper); err != nil {
			e.Logger.Warn("Karte konnte nicht exportiert werden",
				zap.String("question_id", questions[i].ID), zap.Error(err))
			continue
		}
		exported++
	}
	return exported, nil
}

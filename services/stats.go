package services

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"paper-tutor/models"
	"paper-tutor/storage"
)

// StatsService pflegt das Statistik-Aggregat inkrementell und hält daneben
// die vollständige Antwort-Historie. Das Aggregat ist jederzeit aus der
// Historie reproduzierbar; RecomputeFromHistory spielt dazu dieselbe
// Update-Funktion über alle Einträge ab.
type StatsService struct {
	Store  *storage.Store
	Logger *zap.Logger
	Clock  Clock
}

// NewStatsService erstellt einen neuen StatsService.
func NewStatsService(store *storage.Store, logger *zap.Logger, clock Clock) *StatsService {
	return &StatsService{Store: store, Logger: logger, Clock: clock}
}

// emptyStats liefert ein frisches Aggregat.
func emptyStats() *models.Stats {
	return &models.Stats{
		ID:            models.StatsKey,
		TopicAccuracy: datatypes.NewJSONType(map[string]float64{}),
		TopicCounts:   datatypes.NewJSONType(map[string]int{}),
		PapersRead:    datatypes.NewJSONSlice([]string{}),
	}
}

// Current liefert das Aggregat, bei leerem Store ein frisches.
func (s *StatsService) Current() (*models.Stats, error) {
	st, err := s.Store.GetStats()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return emptyStats(), nil
	}
	return st, nil
}

// RecordAnswer verbucht einen Antwortversuch: gewichtete Mittel, Streak und
// Historie werden in einem Zug aktualisiert und atomar gespeichert.
func (s *StatsService) RecordAnswer(question *models.Question, answer string, isCorrect bool, confidence int) error {
	st, err := s.Current()
	if err != nil {
		return err
	}

	now := s.Clock.Now()
	entry := &models.HistoryEntry{
		QuestionID: question.ID,
		PaperID:    question.PaperID,
		Answer:     answer,
		IsCorrect:  isCorrect,
		Confidence: confidence,
		CreatedAt:  now,
	}

	applyAnswer(st, entry, question.Tags, now)

	if err := s.Store.SaveStats(st, entry); err != nil {
		return err
	}
	s.Logger.Info("Antwort verbucht",
		zap.String("question_id", question.ID),
		zap.Bool("correct", isCorrect),
		zap.Int("streak", st.Streak))
	return nil
}

// applyAnswer ist der eine Update-Schritt des Aggregats. RecordAnswer und
// RecomputeFromHistory benutzen exakt denselben Schritt, sonst wäre das
// Aggregat nicht reproduzierbar.
func applyAnswer(st *models.Stats, entry *models.HistoryEntry, topics []string, now time.Time) {
	n := float64(st.QuestionsAnswered)
	st.AverageConfidence = (st.AverageConfidence*n + float64(entry.Confidence)) / (n + 1)
	st.QuestionsAnswered++

	score := 0.0
	if entry.IsCorrect {
		score = 100.0
	}
	accuracy := st.TopicAccuracy.Data()
	counts := st.TopicCounts.Data()
	if accuracy == nil {
		accuracy = map[string]float64{}
	}
	if counts == nil {
		counts = map[string]int{}
	}
	for _, topic := range topics {
		c := float64(counts[topic])
		accuracy[topic] = (accuracy[topic]*c + score) / (c + 1)
		counts[topic]++
	}
	st.TopicAccuracy = datatypes.NewJSONType(accuracy)
	st.TopicCounts = datatypes.NewJSONType(counts)

	switch dayDiff(st.LastActive, now) {
	case 0:
		if st.Streak == 0 {
			st.Streak = 1
		}
	case 1:
		st.Streak++
	default:
		st.Streak = 1
	}
	st.LastActive = now

	papers := []string(st.PapersRead)
	if entry.PaperID != "" && !contains(papers, entry.PaperID) {
		st.PapersRead = datatypes.NewJSONSlice(append(papers, entry.PaperID))
	}
}

// dayDiff zählt Kalendertage zwischen zwei Zeitpunkten in lokaler Zeit.
// Eine frische Statistik (LastActive == Nullwert) zählt als neuer Tag.
// Die Kalenderdaten werden nach UTC normalisiert, bevor subtrahiert wird:
// eine Differenz echter lokaler Mitternachten wäre am Tag einer
// Zeitumstellung 23 oder 25 Stunden lang und würde falsch abgerundet.
func dayDiff(last, now time.Time) int {
	if last.IsZero() {
		return -1
	}
	a := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// RecomputeFromHistory verwirft das Aggregat und spielt die gesamte Historie
// neu ab. Fragen, die inzwischen gelöscht wurden, fließen ohne Themen ein.
func (s *StatsService) RecomputeFromHistory() (*models.Stats, error) {
	entries, err := s.Store.History()
	if err != nil {
		return nil, err
	}

	st := emptyStats()
	for i := range entries {
		var topics []string
		question, err := s.Store.GetQuestion(entries[i].QuestionID)
		if err != nil {
			return nil, err
		}
		if question != nil {
			topics = question.Tags
		}
		applyAnswer(st, &entries[i], topics, entries[i].CreatedAt)
	}

	if err := s.Store.SaveStats(st, nil); err != nil {
		return nil, err
	}
	s.Logger.Info("Statistik aus Historie neu berechnet",
		zap.Int("entries", len(entries)))
	return st, nil
}

// Reset löscht Aggregat und Historie.
func (s *StatsService) Reset() error {
	return s.Store.ResetStats()
}

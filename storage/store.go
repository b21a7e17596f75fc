package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paper-tutor/models"
)

// Fehlerarten beim Öffnen bzw. Migrieren des Stores. Beide sind beim Start
// fatal; es gibt bewusst keinen stillen Fallback auf einen In-Memory-Modus.
var (
	// ErrBlocked: die Datenbankdatei wird von einer anderen Session gehalten.
	ErrBlocked = errors.New("store blocked by another session")

	// ErrUnavailable: die Datenbankdatei kann nicht geöffnet werden.
	ErrUnavailable = errors.New("store unavailable")
)

// Store ist die lokale, dauerhafte Ablage für Papers, Fragen, Einstellungen
// und Statistik. Er ist alleiniger Eigentümer des persistierten Zustands;
// In-Memory-Zustand der Aufrufer ist nie autoritativ.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open öffnet die sqlite-Datei und führt ausstehende Migrationen aus.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, classifyOpenErr(err)
	}
	// sqlite verbindet lazy; einen echten Zugriff erzwingen, damit
	// Öffnungsfehler hier auflaufen und nicht erst mitten im Betrieb.
	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, classifyOpenErr(err)
	}

	s := &Store{db: db, log: log}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// classifyOpenErr ordnet sqlite-Fehler den unterscheidbaren Fehlerarten zu.
func classifyOpenErr(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	case strings.Contains(msg, "unable to open") || strings.Contains(msg, "permission denied") || strings.Contains(msg, "readonly"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("opening store: %w", err)
	}
}

// Close schließt die darunterliegende Datenbankverbindung.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ---- Papers ----

// GetPaper liefert ein Paper oder (nil, nil), wenn es nicht existiert.
func (s *Store) GetPaper(id string) (*models.Paper, error) {
	var p models.Paper
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListPapers liefert alle Papers, neueste Publikation zuerst.
func (s *Store) ListPapers() ([]models.Paper, error) {
	var papers []models.Paper
	if err := s.db.Order("published_at desc").Find(&papers).Error; err != nil {
		return nil, err
	}
	return papers, nil
}

// SavePaper legt ein Paper an bzw. aktualisiert es und pflegt dabei die
// Lese-Buchhaltung: LastRead wird aufgefrischt, TimesRead hochgezählt und
// ein bereits gesetztes QuestionsGenerated-Flag bleibt erhalten.
func (s *Store) SavePaper(p *models.Paper) error {
	now := time.Now()
	existing, err := s.GetPaper(p.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		p.CreatedAt = existing.CreatedAt
		p.TimesRead = existing.TimesRead + 1
		p.QuestionsGenerated = p.QuestionsGenerated || existing.QuestionsGenerated
	} else {
		p.TimesRead = 1
		p.QuestionsGenerated = false
	}
	p.LastRead = &now
	return s.db.Save(p).Error
}

// MarkQuestionsGenerated setzt das Generierungs-Flag eines Papers.
func (s *Store) MarkQuestionsGenerated(paperID string) error {
	return s.db.Model(&models.Paper{}).
		Where("id = ?", paperID).
		Update("questions_generated", true).Error
}

// ---- Questions ----

// GetQuestion liefert eine Frage samt Versuchen und Feedback oder (nil, nil).
func (s *Store) GetQuestion(id string) (*models.Question, error) {
	var q models.Question
	err := s.db.Preload("Answers").Preload("Feedback").First(&q, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &q, nil
}

// QuestionsByPaper liefert alle Fragen eines Papers (Index by-paper) in
// Ordinalreihenfolge. Rein lexikographisch würde "x-10" vor "x-2" landen;
// innerhalb eines Papers stellt die Längen-Vorsortierung die numerische
// Reihenfolge her.
func (s *Store) QuestionsByPaper(paperID string) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.Preload("Answers").
		Where("paper_id = ?", paperID).
		Order("length(id), id").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// QuestionsByType liefert alle Fragen eines Typs (Index by-type).
func (s *Store) QuestionsByType(questionType string) ([]models.Question, error) {
	var questions []models.Question
	err := s.db.Preload("Answers").
		Where("type = ?", questionType).
		Order("id").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// RecentQuestions liefert beantwortete Fragen, zuletzt beantwortete zuerst
// (Index by-last-answered).
func (s *Store) RecentQuestions() ([]models.Question, error) {
	var questions []models.Question
	err := s.db.Preload("Answers").
		Where("last_answered IS NOT NULL").
		Order("last_answered desc").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// QuestionsNeedingRevision liefert alle Fragen mit Revisions-Flag.
func (s *Store) QuestionsNeedingRevision() ([]models.Question, error) {
	var questions []models.Question
	err := s.db.Preload("Feedback").
		Where("needs_revision = ?", true).
		Order("id").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// CountQuestions zählt die Fragen eines Papers.
func (s *Store) CountQuestions(paperID string) (int, error) {
	var count int64
	err := s.db.Model(&models.Question{}).
		Where("paper_id = ?", paperID).
		Count(&count).Error
	return int(count), err
}

// SaveQuestions schreibt einen Satz generierter Fragen in einer Transaktion.
func (s *Store) SaveQuestions(questions []models.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for i := range questions {
			if err := tx.Save(&questions[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteQuestion entfernt eine Frage samt Versuchen und Feedback.
func (s *Store) DeleteQuestion(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Answer{}, "question_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Feedback{}, "question_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Question{}, "id = ?", id).Error
	})
}

// AppendAnswer hängt einen Antwortversuch an und stempelt LastAnswered.
func (s *Store) AppendAnswer(questionID string, answer *models.Answer) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		answer.QuestionID = questionID
		if err := tx.Create(answer).Error; err != nil {
			return err
		}
		return tx.Model(&models.Question{}).
			Where("id = ?", questionID).
			Update("last_answered", answer.CreatedAt).Error
	})
}

// AppendFeedback hängt eine Rückmeldung an und setzt das Revisions-Flag.
func (s *Store) AppendFeedback(questionID string, fb *models.Feedback) error {
	reason := fb.Category
	if fb.Category == models.FeedbackOther && fb.Comment != "" {
		reason = fb.Comment
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		fb.QuestionID = questionID
		if err := tx.Create(fb).Error; err != nil {
			return err
		}
		return tx.Model(&models.Question{}).
			Where("id = ?", questionID).
			Updates(map[string]any{
				"needs_revision":  true,
				"revision_reason": reason,
			}).Error
	})
}

// ClearQuestions löscht alle Fragen samt Anhang, setzt die Frage-Statistik
// zurück und hebt die Generierungs-Flags der Papers wieder auf.
func (s *Store) ClearQuestions() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, stmt := range []string{
			"DELETE FROM answers",
			"DELETE FROM question_feedback",
			"DELETE FROM questions",
			"DELETE FROM question_history",
		} {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Stats{}).
			Where("id = ?", models.StatsKey).
			Updates(map[string]any{
				"questions_answered": 0,
				"average_confidence": 0,
				"topic_accuracy":     "{}",
				"topic_counts":       "{}",
			}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Paper{}).
			Where("questions_generated = ?", true).
			Update("questions_generated", false).Error
	})
}

// ---- Settings ----

// GetSettings liefert die Einstellungen oder (nil, nil).
func (s *Store) GetSettings() (*models.Settings, error) {
	var st models.Settings
	if err := s.db.First(&st, "id = ?", models.SettingsKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// SaveSettings speichert die Einstellungen und klemmt dabei alle Werte auf
// ihre erlaubten Bereiche.
func (s *Store) SaveSettings(st *models.Settings) error {
	st.ID = models.SettingsKey
	st.Clamp()
	return s.db.Save(st).Error
}

// ---- Stats ----

// GetStats liefert den Aggregat-Datensatz oder (nil, nil).
func (s *Store) GetStats() (*models.Stats, error) {
	var st models.Stats
	if err := s.db.First(&st, "id = ?", models.StatsKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &st, nil
}

// SaveStats schreibt das Aggregat und optional einen Historien-Eintrag in
// einer Transaktion, damit beide Sichten konsistent bleiben.
func (s *Store) SaveStats(st *models.Stats, entry *models.HistoryEntry) error {
	st.ID = models.StatsKey
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(st).Error; err != nil {
			return err
		}
		if entry != nil {
			return tx.Create(entry).Error
		}
		return nil
	})
}

// History liefert die Antwort-Historie in chronologischer Reihenfolge.
func (s *Store) History() ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	if err := s.db.Order("id").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ResetStats löscht Aggregat und Historie vollständig.
func (s *Store) ResetStats() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM question_history").Error; err != nil {
			return err
		}
		return tx.Delete(&models.Stats{}, "id = ?", models.StatsKey).Error
	})
}

// ---- LLM-Kosten ----

// AddCost protokolliert einen Kosteneintrag.
func (s *Store) AddCost(entry *models.CostEntry) error {
	return s.db.Create(entry).Error
}

// Costs liefert alle Kosteneinträge, neueste zuerst.
func (s *Store) Costs() ([]models.CostEntry, error) {
	var entries []models.CostEntry
	if err := s.db.Order("created_at desc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"paper-tutor/anthropic"
	"paper-tutor/config"
	"paper-tutor/models"
	"paper-tutor/storage"
)

// Completer ist die LLM-Schnittstelle des Generators. *anthropic.Client
// erfüllt sie; Tests stecken hier einen Stub hinein.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, anthropic.Usage, error)
	Model() string
}

// GeneratorService koordiniert die Fragengenerierung. Pro Paper läuft
// höchstens eine Generierung gleichzeitig; parallele Aufrufer hängen sich an
// das laufende Ergebnis an, statt doppelte LLM-Aufrufe auszulösen.
type GeneratorService struct {
	Config *config.Config
	Store  *storage.Store
	Logger *zap.Logger
	LLM    Completer
	Fetch  *FetchService
	Stats  *StatsService
	Costs  *CostService
	Policy *RetryPolicy

	group    singleflight.Group
	sweeping atomic.Bool
}

// NewGeneratorService erstellt einen neuen GeneratorService.
func NewGeneratorService(cfg *config.Config, store *storage.Store, logger *zap.Logger, llm Completer, fetch *FetchService, stats *StatsService, costs *CostService, clock Clock) *GeneratorService {
	retryLog := logger.Named("retry")
	policy := &RetryPolicy{
		Limiter:     NewRateLimiter(cfg.ModelRequestInterval, clock),
		Timeout:     cfg.ModelTimeout,
		MaxAttempts: cfg.ModelMaxRetries,
		BaseDelay:   cfg.ModelRetryBaseDelay,
		Logger:      retryLog,
		Clock:       clock,
		OnCountdown: func(remaining, total int) {
			if remaining != total && remaining%10 == 0 {
				retryLog.Debug("Versuch läuft noch",
					zap.Int("remaining_seconds", remaining),
					zap.Int("total_seconds", total))
			}
		},
	}
	return &GeneratorService{
		Config: cfg,
		Store:  store,
		Logger: logger,
		LLM:    llm,
		Fetch:  fetch,
		Stats:  stats,
		Costs:  costs,
		Policy: policy,
	}
}

// EnsureQuestions stellt sicher, dass ein Paper mindestens minCount
// unbeantwortete Fragen hat, und generiert nur die Differenz nach. Der
// zweite Rückgabewert meldet, ob generiert wurde.
func (g *GeneratorService) EnsureQuestions(ctx context.Context, paperID string, minCount int) ([]models.Question, bool, error) {
	if minCount <= 0 {
		minCount = g.Config.QuestionsPerPaper
	}
	existing, err := g.Store.QuestionsByPaper(paperID)
	if err != nil {
		return nil, false, err
	}
	unanswered := 0
	for i := range existing {
		if !existing[i].Answered() {
			unanswered++
		}
	}
	if unanswered >= minCount {
		g.Logger.Debug("Genug unbeantwortete Fragen vorhanden",
			zap.String("paper_id", paperID),
			zap.Int("unanswered", unanswered))
		return existing, false, nil
	}

	generated, err := g.Generate(ctx, paperID, minCount-unanswered)
	if err != nil {
		return nil, false, err
	}
	return append(existing, generated...), true, nil
}

// Generate erzeugt count neue Fragen für ein Paper. Gleichzeitige Aufrufer
// für dieselbe Paper-ID teilen sich einen einzigen LLM-Aufruf.
func (g *GeneratorService) Generate(ctx context.Context, paperID string, count int) ([]models.Question, error) {
	if count <= 0 {
		count = g.Config.QuestionsPerPaper
	}
	result, err, shared := g.group.Do(paperID, func() (interface{}, error) {
		return g.generate(ctx, paperID, count)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		g.Logger.Debug("Generierung mit parallelem Aufrufer geteilt",
			zap.String("paper_id", paperID))
	}
	return result.([]models.Question), nil
}

func (g *GeneratorService) generate(ctx context.Context, paperID string, count int) ([]models.Question, error) {
	paper, err := g.Fetch.GetPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if paper == nil {
		return nil, fmt.Errorf("paper %q: %w", paperID, ErrNotFound)
	}

	// Vorhandene Fragen bestimmen den Startindex, damit die IDs eines
	// nachgenerierten Satzes nicht mit dem Bestand kollidieren. Maßgeblich
	// ist der höchste vergebene Index, nicht die Anzahl: Lücken durch
	// gelöschte Fragen dürfen nicht neu belegt werden.
	existing, err := g.Store.QuestionsByPaper(paperID)
	if err != nil {
		return nil, err
	}
	offset := maxOrdinal(existing)

	log := g.Logger.With(zap.String("paper_id", paperID))
	log.Info("Starte Fragengenerierung.", zap.Int("count", count))

	system := systemPrompt()
	user := userPrompt(paper, count)

	raw, err := g.Policy.Do(ctx, func(ctx context.Context) (string, error) {
		text, usage, err := g.LLM.Complete(ctx, system, user, 4000, 0.3)
		// Die Buchung passiert im Versuch selbst: auch ein Aufruf, dessen
		// Ergebnis nach einem Timeout verworfen wird, hat Tokens verbraucht.
		if usage.InputTokens > 0 || usage.OutputTokens > 0 {
			g.Costs.Record("generate_questions", g.LLM.Model(), usage)
		}
		if err != nil {
			return "", err
		}
		return text, nil
	})
	if err != nil {
		return nil, err
	}

	questions, err := parseQuestions(paper, raw, offset)
	if err != nil {
		log.Warn("Antwort des Modells verworfen", zap.Error(err))
		return nil, err
	}

	// Persistenz ist best-effort: der Satz ist auch ohne Cache gültig.
	if err := g.Store.SaveQuestions(questions); err != nil {
		log.Warn("Fragensatz konnte nicht gespeichert werden", zap.Error(err))
	} else if err := g.Store.MarkQuestionsGenerated(paperID); err != nil {
		log.Warn("Generierungs-Flag konnte nicht gesetzt werden", zap.Error(err))
	}

	log.Info("Fragengenerierung abgeschlossen", zap.Int("questions", len(questions)))
	return questions, nil
}

// generatedItem ist das erwartete Format eines einzelnen Elements der
// Modellantwort.
type generatedItem struct {
	Text          string   `json:"text"`
	Type          string   `json:"type"`
	Context       string   `json:"context"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
	Tags          []string `json:"tags"`
}

var knownTypes = map[string]bool{
	models.QuestionTypeMethodology:  true,
	models.QuestionTypeFindings:     true,
	models.QuestionTypeImplications: true,
	models.QuestionTypeLimitations:  true,
	models.QuestionTypePredictive:   true,
}

// parseQuestions validiert die Modellantwort alles-oder-nichts: ist auch nur
// ein Element unbrauchbar, wird der gesamte Satz verworfen. Die IDs werden
// deterministisch aus Paper-ID und Ordinalindex gebildet; offset setzt den
// Index hinter bereits vorhandene Fragen.
func parseQuestions(paper *models.Paper, raw string, offset int) ([]models.Question, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, &ValidationError{Reason: "response contains no JSON array"}
	}

	var items []generatedItem
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, &ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	if len(items) == 0 {
		return nil, &ValidationError{Reason: "empty question set"}
	}

	questions := make([]models.Question, 0, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("item %d: missing text", i)}
		}
		if item.Type == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("item %d: missing type", i)}
		}
		if !knownTypes[item.Type] {
			return nil, &ValidationError{Reason: fmt.Sprintf("item %d: unknown type %q", i, item.Type)}
		}
		answer := NormalizeAnswer(item.CorrectAnswer)
		if answer == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("item %d: missing correctAnswer", i)}
		}
		if !isEnumAnswer(answer) {
			return nil, &ValidationError{Reason: fmt.Sprintf("item %d: correctAnswer %q not in enumeration", i, item.CorrectAnswer)}
		}

		questions = append(questions, models.Question{
			ID:            fmt.Sprintf("%s-%d", paper.ID, offset+i+1),
			PaperID:       paper.ID,
			Text:          strings.TrimSpace(item.Text),
			Type:          item.Type,
			Context:       strings.TrimSpace(item.Context),
			CorrectAnswer: answer,
			Explanation:   strings.TrimSpace(item.Explanation),
			Tags:          datatypes.NewJSONSlice(questionTags(item.Tags, paper)),
		})
	}
	return questions, nil
}

// maxOrdinal liefert den höchsten Ordinalindex eines Fragensatzes.
func maxOrdinal(questions []models.Question) int {
	highest := 0
	for i := range questions {
		id := questions[i].ID
		cut := strings.LastIndex(id, "-")
		if cut < 0 {
			continue
		}
		if n, err := strconv.Atoi(id[cut+1:]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// questionTags vereinigt Modell-Tags mit den Paper-Topics, damit jede Frage
// für die Themen-Statistik greifbar bleibt.
func questionTags(tags []string, paper *models.Paper) []string {
	seen := make(map[string]bool)
	var result []string
	for _, tag := range append(append([]string{}, tags...), paper.Topics...) {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		result = append(result, tag)
	}
	return result
}

// NormalizeAnswer normiert eine Nutzer- oder Modellantwort auf die
// Vergleichsform (getrimmt und kleingeschrieben).
func NormalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

func isEnumAnswer(normalized string) bool {
	for _, a := range models.EnumAnswers {
		if normalized == a {
			return true
		}
	}
	return false
}

// AnswerResult ist das Ergebnis einer Antwortprüfung. Graded ist false,
// wenn die Eingabe außerhalb der Enumeration lag; solche Versuche werden
// nicht gewertet und nicht verbucht.
type AnswerResult struct {
	Answer    string `json:"answer"`
	IsCorrect bool   `json:"is_correct"`
	Score     int    `json:"score"`
	Feedback  string `json:"feedback"`
	Graded    bool   `json:"graded"`
}

// ValidateAnswer prüft eine Nutzerantwort gegen eine Frage. Antworten
// außerhalb der Enumeration ergeben ein ungewertetes Ergebnis mit
// Formathinweis, ohne die hinterlegte Antwort preiszugeben.
func ValidateAnswer(question *models.Question, answer string) AnswerResult {
	normalized := NormalizeAnswer(answer)
	if !isEnumAnswer(normalized) {
		return AnswerResult{
			Answer:   normalized,
			Feedback: fmt.Sprintf("Bitte mit einer der Optionen antworten: %s.", strings.Join(models.EnumAnswers, ", ")),
		}
	}
	result := AnswerResult{
		Answer:   normalized,
		Feedback: question.Explanation,
		Graded:   true,
	}
	if normalized == NormalizeAnswer(question.CorrectAnswer) {
		result.IsCorrect = true
		result.Score = 100
	}
	return result
}

// SubmitAnswer verbucht einen Antwortversuch samt Statistik. Ungewertete
// Versuche werden dem Aufrufer gemeldet, aber weder gespeichert noch in die
// Statistik übernommen.
func (g *GeneratorService) SubmitAnswer(ctx context.Context, questionID, answer string, confidence int) (*AnswerResult, error) {
	question, err := g.Store.GetQuestion(questionID)
	if err != nil {
		return nil, err
	}
	if question == nil {
		return nil, fmt.Errorf("question %q: %w", questionID, ErrNotFound)
	}

	result := ValidateAnswer(question, answer)
	if !result.Graded {
		return &result, nil
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	record := &models.Answer{
		Answer:     result.Answer,
		IsCorrect:  result.IsCorrect,
		Confidence: confidence,
	}
	if err := g.Store.AppendAnswer(questionID, record); err != nil {
		return nil, err
	}
	if err := g.Stats.RecordAnswer(question, result.Answer, result.IsCorrect, confidence); err != nil {
		return nil, err
	}
	return &result, nil
}

var knownFeedback = map[string]bool{
	models.FeedbackTooSpecific:     true,
	models.FeedbackNotPredictive:   true,
	models.FeedbackReferencesPaper: true,
	models.FeedbackUnclear:         true,
	models.FeedbackOther:           true,
}

// SubmitFeedback verbucht eine Qualitäts-Rückmeldung und markiert die Frage
// als überarbeitungsbedürftig.
func (g *GeneratorService) SubmitFeedback(ctx context.Context, questionID, category, comment string) error {
	if !knownFeedback[category] {
		return &ValidationError{Reason: fmt.Sprintf("unknown feedback category %q", category)}
	}
	question, err := g.Store.GetQuestion(questionID)
	if err != nil {
		return err
	}
	if question == nil {
		return fmt.Errorf("question %q: %w", questionID, ErrNotFound)
	}
	return g.Store.AppendFeedback(questionID, &models.Feedback{
		Category: category,
		Comment:  strings.TrimSpace(comment),
	})
}

// FollowUp beantwortet eine Verständnisfrage zu einer bereits gestellten
// Frage im Kontext ihres Papers.
func (g *GeneratorService) FollowUp(ctx context.Context, questionID, userQuestion string) (string, error) {
	if strings.TrimSpace(userQuestion) == "" {
		return "", &ValidationError{Reason: "empty follow-up question"}
	}
	question, err := g.Store.GetQuestion(questionID)
	if err != nil {
		return "", err
	}
	if question == nil {
		return "", fmt.Errorf("question %q: %w", questionID, ErrNotFound)
	}
	paper, err := g.Store.GetPaper(question.PaperID)
	if err != nil {
		return "", err
	}

	user := followUpPrompt(question, paper, userQuestion)
	answer, err := g.Policy.Do(ctx, func(ctx context.Context) (string, error) {
		text, usage, err := g.LLM.Complete(ctx, followUpSystemPrompt, user, 1000, 0.5)
		if usage.InputTokens > 0 || usage.OutputTokens > 0 {
			g.Costs.Record("followup", g.LLM.Model(), usage)
		}
		if err != nil {
			return "", err
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// RunSweep generiert im Hintergrund Fragen für Papers ohne Fragensatz,
// Papers mit den wenigsten Fragen zuerst. Läuft bereits ein Sweep oder ist
// die Quelle offline, passiert nichts.
func (g *GeneratorService) RunSweep(ctx context.Context) (int, error) {
	if !g.sweeping.CompareAndSwap(false, true) {
		g.Logger.Debug("Sweep läuft bereits, überspringe.")
		return 0, nil
	}
	defer g.sweeping.Store(false)

	if !g.Fetch.IsOnline() {
		g.Logger.Info("Quelle offline, überspringe Sweep.")
		return 0, nil
	}

	papers, err := g.Store.ListPapers()
	if err != nil {
		return 0, err
	}

	type candidate struct {
		id    string
		count int
	}
	var candidates []candidate
	for i := range papers {
		if papers[i].QuestionsGenerated {
			continue
		}
		count, err := g.Store.CountQuestions(papers[i].ID)
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, candidate{id: papers[i].ID, count: count})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].count < candidates[j].count
	})
	if len(candidates) > g.Config.SweepBatchSize {
		candidates = candidates[:g.Config.SweepBatchSize]
	}

	generated := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return generated, ctx.Err()
		}
		if _, err := g.Generate(ctx, c.id, 0); err != nil {
			g.Logger.Warn("Sweep-Generierung fehlgeschlagen",
				zap.String("paper_id", c.id), zap.Error(err))
			continue
		}
		generated++
	}
	g.Logger.Info("Sweep abgeschlossen",
		zap.Int("candidates", len(candidates)),
		zap.Int("generated", generated))
	return generated, nil
}

const followUpSystemPrompt = `You are a patient tutor for scientific papers. Answer the learner's follow-up question concisely in plain language, grounded in the given paper and quiz question. Do not reveal more than the learner asked for.`

func systemPrompt() string {
	return `You are an expert at writing predictive quiz questions about scientific papers.

GOAL
Generate questions that ask the learner to PREDICT the direction of an effect reported in the paper, before they have read the full text.

RULES
- Every question must be answerable with exactly one of: increased, decreased, unchanged.
- Questions must be understandable without access to the paper itself. Never reference "the paper", "the study", "the authors" or figure/table numbers.
- Cover different aspects: methodology, findings, implications, limitations, predictive.

STRICT OUTPUT
Return ONLY a JSON array, no text outside it. Each element:
{"text": "...", "type": "methodology|findings|implications|limitations|predictive", "context": "one sentence of setup", "correctAnswer": "increased|decreased|unchanged", "explanation": "why this is the answer", "tags": ["topic", ...]}`
}

func userPrompt(paper *models.Paper, count int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate %d questions for this paper.\n\n", count)
	fmt.Fprintf(&b, "Title: %s\n", paper.Title)
	if len(paper.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(paper.Authors, ", "))
	}
	if len(paper.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(paper.Topics, ", "))
	}
	fmt.Fprintf(&b, "\nAbstract:\n%s\n", paper.Abstract)
	if len(paper.Findings) > 0 {
		fmt.Fprintf(&b, "\nKey findings:\n- %s\n", strings.Join(paper.Findings, "\n- "))
	}
	return b.String()
}

func followUpPrompt(question *models.Question, paper *models.Paper, userQuestion string) string {
	var b strings.Builder
	if paper != nil {
		fmt.Fprintf(&b, "Paper: %s\n\nAbstract:\n%s\n\n", paper.Title, paper.Abstract)
	}
	fmt.Fprintf(&b, "Quiz question: %s\n", question.Text)
	fmt.Fprintf(&b, "Correct answer: %s\n", question.CorrectAnswer)
	if question.Explanation != "" {
		fmt.Fprintf(&b, "Explanation: %s\n", question.Explanation)
	}
	fmt.Fprintf(&b, "\nLearner's follow-up: %s\n", userQuestion)
	return b.String()
}

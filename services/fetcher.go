package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"paper-tutor/config"
	"paper-tutor/models"
	"paper-tutor/providers"
	"paper-tutor/storage"
)

// FetchService orchestriert das Laden von Papers: Quelle befragen,
// best-effort anreichern, in den Store durchschreiben. Der Store ist dabei
// immer die autoritative Sicht; API-Antworten werden nur kurz gecacht, um
// wiederholte identische Suchen zu sparen.
type FetchService struct {
	Config   *config.Config
	Store    *storage.Store
	Logger   *zap.Logger
	Provider providers.Provider
	Enricher providers.Enricher
	Limiter  *RateLimiter

	online atomic.Bool

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	papers    []*models.Paper
	fetchedAt time.Time
}

// NewFetchService erstellt eine neue Instanz des FetchService.
func NewFetchService(cfg *config.Config, store *storage.Store, logger *zap.Logger, provider providers.Provider, enricher providers.Enricher, clock Clock) *FetchService {
	f := &FetchService{
		Config:   cfg,
		Store:    store,
		Logger:   logger,
		Provider: provider,
		Enricher: enricher,
		Limiter:  NewRateLimiter(cfg.ArxivRequestInterval, clock),
		cache:    make(map[string]cacheEntry),
	}
	f.online.Store(true)
	return f
}

// IsOnline meldet die zuletzt beobachtete Erreichbarkeit der Quelle.
func (f *FetchService) IsOnline() bool {
	return f.online.Load()
}

// Search befragt die Quelle mit den gegebenen Filtern. Frische Cache-Treffer
// werden ohne Netzzugriff beantwortet; ist die Quelle nicht erreichbar,
// fällt die Suche auf den lokalen Bestand zurück statt zu scheitern.
func (f *FetchService) Search(ctx context.Context, filters providers.SearchFilters) ([]*models.Paper, error) {
	if filters.MaxResults <= 0 {
		filters.MaxResults = f.Config.DefaultFetchLimit
	}
	key := cacheKey(filters)

	f.mu.Lock()
	entry, ok := f.cache[key]
	f.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < f.Config.APICacheDuration {
		f.Logger.Debug("Suche aus Cache beantwortet", zap.String("key", key))
		return entry.papers, nil
	}

	if err := f.Limiter.WaitForNext(ctx); err != nil {
		return nil, err
	}

	papers, err := f.Provider.Search(ctx, filters)
	if err != nil {
		f.online.Store(false)
		f.Logger.Warn("Suche fehlgeschlagen, falle auf lokalen Bestand zurück",
			zap.String("provider", f.Provider.Name()), zap.Error(err))
		stored, storeErr := f.Store.ListPapers()
		if storeErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrOffline, err)
		}
		result := make([]*models.Paper, 0, len(stored))
		for i := range stored {
			result = append(result, &stored[i])
		}
		return result, nil
	}
	f.online.Store(true)

	for _, paper := range papers {
		f.enrich(ctx, paper)
		if err := f.Store.SavePaper(paper); err != nil {
			f.Logger.Error("Paper konnte nicht gespeichert werden",
				zap.String("paper_id", paper.ID), zap.Error(err))
		}
	}

	f.mu.Lock()
	f.cache[key] = cacheEntry{papers: papers, fetchedAt: time.Now()}
	f.mu.Unlock()

	f.Logger.Info("Suche abgeschlossen",
		zap.String("provider", f.Provider.Name()),
		zap.Int("found_papers", len(papers)))
	return papers, nil
}

// SearchForSettings leitet die Filter aus den gespeicherten Einstellungen ab.
func (f *FetchService) SearchForSettings(ctx context.Context) ([]*models.Paper, error) {
	settings, err := f.Store.GetSettings()
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = models.DefaultSettings()
	}
	return f.Search(ctx, providers.SearchFilters{
		Topics:     settings.PreferredTopics,
		Keywords:   settings.QuestionKeywords,
		MaxResults: settings.PrefetchCount,
	})
}

// GetPaper liefert ein Paper aus dem Store und lädt es bei Bedarf nach.
func (f *FetchService) GetPaper(ctx context.Context, id string) (*models.Paper, error) {
	paper, err := f.Store.GetPaper(id)
	if err != nil {
		return nil, err
	}
	if paper != nil {
		return paper, nil
	}

	if err := f.Limiter.WaitForNext(ctx); err != nil {
		return nil, err
	}
	fetched, err := f.Provider.FetchByID(ctx, id)
	if err != nil {
		f.Logger.Warn("Paper konnte nicht nachgeladen werden",
			zap.String("paper_id", id), zap.Error(err))
		return nil, err
	}
	f.online.Store(true)

	f.enrich(ctx, fetched)
	if err := f.Store.SavePaper(fetched); err != nil {
		return nil, err
	}
	return fetched, nil
}

// enrich reichert ein Paper best-effort an. Fehler werden protokolliert und
// verworfen; sie dürfen weder Suche noch Nachladen kippen.
func (f *FetchService) enrich(ctx context.Context, paper *models.Paper) {
	if f.Enricher == nil {
		return
	}
	if err := f.Enricher.Enrich(ctx, paper); err != nil {
		f.Logger.Debug("Anreicherung fehlgeschlagen",
			zap.String("paper_id", paper.ID), zap.Error(err))
	}
}

// cacheKey bildet Filter deterministisch auf einen Cache-Schlüssel ab.
func cacheKey(filters providers.SearchFilters) string {
	topics := append([]string(nil), filters.Topics...)
	keywords := append([]string(nil), filters.Keywords...)
	sort.Strings(topics)
	sort.Strings(keywords)
	return fmt.Sprintf("t=%s|k=%s|n=%d",
		strings.Join(topics, ","), strings.Join(keywords, ","), filters.MaxResults)
}

package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"paper-tutor/config"
	"paper-tutor/models"
	"paper-tutor/providers"
	"paper-tutor/services"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Fetcher implementiert das Provider-Interface für das arXiv Atom-API.
type Fetcher struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewFetcher erstellt einen neuen arXiv Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	return &Fetcher{Config: cfg, Logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "arxiv"
}

// Search führt die Suche auf arXiv aus, neueste Einreichungen zuerst.
func (f *Fetcher) Search(ctx context.Context, filters providers.SearchFilters) ([]*models.Paper, error) {
	query := buildQuery(filters)
	max := filters.MaxResults
	if max <= 0 || max > f.Config.MaxPapersPerRequest {
		max = f.Config.MaxPapersPerRequest
	}

	log := f.Logger.With(zap.String("query", query))
	log.Info("Starte Suche auf arXiv.")

	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", "0")
	params.Set("max_results", fmt.Sprintf("%d", max))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	feed, err := f.fetch(ctx, params)
	if err != nil {
		return nil, err
	}

	papers := make([]*models.Paper, 0, len(feed.Entries))
	for i := range feed.Entries {
		papers = append(papers, mapEntryToModel(&feed.Entries[i]))
	}

	log.Info("Suche auf arXiv abgeschlossen", zap.Int("found_papers", len(papers)))
	return papers, nil
}

// FetchByID lädt genau ein Paper über die id_list-Abfrage.
func (f *Fetcher) FetchByID(ctx context.Context, id string) (*models.Paper, error) {
	params := url.Values{}
	params.Set("id_list", id)
	params.Set("max_results", "1")

	feed, err := f.fetch(ctx, params)
	if err != nil {
		return nil, err
	}
	for i := range feed.Entries {
		// arXiv liefert für unbekannte IDs einen leeren Fehler-Eintrag
		// statt eines leeren Feeds.
		if feed.Entries[i].Title != "" && feed.Entries[i].ID != "" {
			return mapEntryToModel(&feed.Entries[i]), nil
		}
	}
	return nil, fmt.Errorf("arxiv id %q: %w", id, services.ErrNotFound)
}

// fetch ruft das Atom-API auf und dekodiert die Antwort.
func (f *Fetcher) fetch(ctx context.Context, params url.Values) (*Feed, error) {
	searchURL := f.Config.ArxivBaseURL + "?" + params.Encode()
	f.Logger.Debug("Rufe arXiv API auf", zap.String("url", searchURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// arXiv drosselt mit 429 bzw. 503 samt Retry-After.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("arxiv status %d: %w", resp.StatusCode, services.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv status %d", resp.StatusCode)
	}

	var feed Feed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding arxiv feed: %w", err)
	}
	return &feed, nil
}

// buildQuery baut den search_query-Ausdruck aus Themen und Stichwörtern.
// Themen werden als Kategorien ge-ODER-t, Stichwörter als Volltext-Terme,
// beide Gruppen mit AND verknüpft.
func buildQuery(filters providers.SearchFilters) string {
	var groups []string

	if len(filters.Topics) > 0 {
		cats := make([]string, 0, len(filters.Topics))
		for _, topic := range filters.Topics {
			cats = append(cats, "cat:"+topic)
		}
		groups = append(groups, "("+strings.Join(cats, " OR ")+")")
	}
	if len(filters.Keywords) > 0 {
		terms := make([]string, 0, len(filters.Keywords))
		for _, kw := range filters.Keywords {
			terms = append(terms, fmt.Sprintf("all:%q", kw))
		}
		groups = append(groups, "("+strings.Join(terms, " OR ")+")")
	}
	if len(groups) == 0 {
		return "all:*"
	}
	return strings.Join(groups, " AND ")
}

// mapEntryToModel konvertiert einen Atom-Eintrag in unser internes Paper-Modell.
func mapEntryToModel(entry *Entry) *models.Paper {
	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		authors = append(authors, a.Name)
	}
	topics := make([]string, 0, len(entry.Categories))
	for _, c := range entry.Categories {
		topics = append(topics, c.Term)
	}

	pageURL := entry.ID
	for _, link := range entry.Links {
		if link.Rel == "alternate" {
			pageURL = link.Href
			break
		}
	}

	return &models.Paper{
		ID:          entryID(entry.ID),
		Title:       strings.Join(strings.Fields(entry.Title), " "),
		Authors:     datatypes.NewJSONSlice(authors),
		Abstract:    strings.TrimSpace(entry.Summary),
		URL:         pageURL,
		DOI:         entry.DOI,
		Journal:     entry.JournalRef,
		Topics:      datatypes.NewJSONSlice(topics),
		PublishedAt: parsePublished(entry.Published),
	}
}

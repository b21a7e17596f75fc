package semanticscholar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"resty.dev/v3"

	"paper-tutor/config"
	"paper-tutor/models"
)

// Fetcher reichert Papers über das Semantic Scholar Graph-API an.
// Anreicherung ist strikt best-effort: der Aufrufer protokolliert Fehler
// höchstens, ein Paper ohne Zitationszahl bleibt ein gültiges Paper.
type Fetcher struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewFetcher erstellt einen neuen Semantic Scholar Fetcher.
func NewFetcher(cfg *config.Config, logger *zap.Logger) *Fetcher {
	client := resty.New()
	client.SetBaseURL(cfg.SemanticScholarBaseURL)
	client.SetTimeout(15 * time.Second)
	if cfg.SemanticScholarAPIKey != "" {
		client.SetHeader("x-api-key", cfg.SemanticScholarAPIKey)
	}
	return &Fetcher{httpClient: client, logger: logger}
}

// Close schließt den darunterliegenden HTTP-Client.
func (f *Fetcher) Close() error {
	return f.httpClient.Close()
}

// Enrich füllt Citations und Findings eines Papers auf. Die arXiv-ID wird
// ohne Versionssuffix abgefragt, da Semantic Scholar Versionen nicht kennt.
func (f *Fetcher) Enrich(ctx context.Context, paper *models.Paper) error {
	id := strings.SplitN(paper.ID, "v", 2)[0]

	var result PaperResponse
	err := retry.Do(
		func() error {
			response, err := f.httpClient.R().
				SetContext(ctx).
				SetResult(&result).
				Get("/graph/v1/paper/arXiv:" + id + "?fields=citationCount,tldr,externalIds")
			if err != nil {
				return err
			}
			if response.StatusCode() == 404 {
				// Unbekannte Papers sind kein transienter Zustand.
				return retry.Unrecoverable(fmt.Errorf("semantic scholar: paper %s unknown", id))
			}
			if response.IsError() {
				return fmt.Errorf("semantic scholar status %d", response.StatusCode())
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}

	if result.CitationCount != nil {
		paper.Citations = result.CitationCount
	}
	if result.TLDR != nil && result.TLDR.Text != "" {
		paper.Findings = datatypes.NewJSONSlice([]string{result.TLDR.Text})
	}
	if paper.DOI == "" && result.ExternalIDs.DOI != "" {
		paper.DOI = result.ExternalIDs.DOI
	}

	f.logger.Debug("Paper angereichert",
		zap.String("paper_id", paper.ID),
		zap.Intp("citations", paper.Citations))
	return nil
}

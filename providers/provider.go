package providers

import (
	"context"

	"paper-tutor/models"
)

// SearchFilters bündelt die Nutzer-Präferenzen, die eine Suche steuern.
type SearchFilters struct {
	Topics     []string
	Keywords   []string
	MaxResults int
}

// Provider ist das Interface, das jede Paper-Quelle implementieren muss.
type Provider interface {
	// Search führt eine Suche aus und gibt standardisierte Paper-Modelle zurück.
	Search(ctx context.Context, filters SearchFilters) ([]*models.Paper, error)

	// FetchByID lädt genau ein Paper anhand seiner Quell-ID.
	FetchByID(ctx context.Context, id string) (*models.Paper, error)

	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "arxiv").
	Name() string
}

// Enricher reichert ein bereits geladenes Paper mit Zusatzdaten an.
// Anreicherung ist immer best-effort; Fehler dürfen eine Suche nie kippen.
type Enricher interface {
	Enrich(ctx context.Context, paper *models.Paper) error
}

package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"paper-tutor/config"
	"paper-tutor/models"
	"paper-tutor/providers"
	"paper-tutor/storage"
)

type stubProvider struct {
	mu      sync.Mutex
	calls   int
	papers  []*models.Paper
	err     error
	byID    map[string]*models.Paper
	idCalls int
}

func (s *stubProvider) Search(ctx context.Context, filters providers.SearchFilters) ([]*models.Paper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.papers, nil
}

func (s *stubProvider) FetchByID(ctx context.Context, id string) (*models.Paper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idCalls++
	if paper, ok := s.byID[id]; ok {
		return paper, nil
	}
	return nil, ErrNotFound
}

func (s *stubProvider) Name() string { return "stub" }

func newTestFetchService(t *testing.T, provider *stubProvider) (*FetchService, *storage.Store) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		ArxivRequestInterval: 0,
		APICacheDuration:     time.Hour,
		DefaultFetchLimit:    10,
	}
	return NewFetchService(cfg, store, zap.NewNop(), provider, nil, newFakeClock()), store
}

func fetchedPaper(id string) *models.Paper {
	return &models.Paper{
		ID:     id,
		Title:  "Sleep deprivation and memory consolidation",
		Topics: datatypes.NewJSONSlice([]string{"q-bio.NC"}),
	}
}

func TestFetchService_SearchWritesThroughAndCaches(t *testing.T) {
	provider := &stubProvider{papers: []*models.Paper{fetchedPaper("2401.00001")}}
	svc, store := newTestFetchService(t, provider)

	filters := providers.SearchFilters{Topics: []string{"q-bio.NC"}}
	papers, err := svc.Search(context.Background(), filters)
	require.NoError(t, err)
	require.Len(t, papers, 1)

	// Write-through into the store.
	stored, err := store.GetPaper("2401.00001")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.TimesRead)

	// An identical search within the TTL never hits the provider again.
	_, err = svc.Search(context.Background(), filters)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)

	// Different filters do.
	_, err = svc.Search(context.Background(), providers.SearchFilters{Topics: []string{"cs.LG"}})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestFetchService_SearchFallsBackToStoreWhenOffline(t *testing.T) {
	provider := &stubProvider{papers: []*models.Paper{fetchedPaper("2401.00001")}}
	svc, store := newTestFetchService(t, provider)
	require.NoError(t, store.SavePaper(fetchedPaper("2401.00002")))

	provider.err = errors.New("dial tcp: connection refused")
	papers, err := svc.Search(context.Background(), providers.SearchFilters{Topics: []string{"q-bio.NC"}})
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "2401.00002", papers[0].ID)
	assert.False(t, svc.IsOnline())

	// A successful search flips the flag back.
	provider.err = nil
	_, err = svc.Search(context.Background(), providers.SearchFilters{Topics: []string{"cs.LG"}})
	require.NoError(t, err)
	assert.True(t, svc.IsOnline())
}

func TestFetchService_GetPaperPrefersStore(t *testing.T) {
	provider := &stubProvider{byID: map[string]*models.Paper{
		"2401.00002": fetchedPaper("2401.00002"),
	}}
	svc, store := newTestFetchService(t, provider)
	require.NoError(t, store.SavePaper(fetchedPaper("2401.00001")))

	// Store hit, no network.
	paper, err := svc.GetPaper(context.Background(), "2401.00001")
	require.NoError(t, err)
	assert.Equal(t, "2401.00001", paper.ID)
	assert.Zero(t, provider.idCalls)

	// Miss falls through to the provider and persists the result.
	paper, err = svc.GetPaper(context.Background(), "2401.00002")
	require.NoError(t, err)
	assert.Equal(t, "2401.00002", paper.ID)
	assert.Equal(t, 1, provider.idCalls)
	stored, err := store.GetPaper("2401.00002")
	require.NoError(t, err)
	assert.NotNil(t, stored)

	// Unknown everywhere.
	_, err = svc.GetPaper(context.Background(), "0000.00000")
	assert.ErrorIs(t, err, ErrNotFound)
}

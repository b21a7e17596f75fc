package arxiv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paper-tutor/config"
	"paper-tutor/providers"
	"paper-tutor/services"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"
      xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/"
      xmlns:arxiv="http://arxiv.org/schemas/atom">
  <opensearch:totalResults>1</opensearch:totalResults>
  <entry>
    <id>http://arxiv.org/abs/2401.12345v2</id>
    <title>Sleep Deprivation and
      Memory Consolidation</title>
    <summary>
      We study the effect of sleep deprivation on recall.
    </summary>
    <published>2024-01-25T18:00:00Z</published>
    <author><name>Ada Example</name></author>
    <author><name>Grace Sample</name></author>
    <category term="q-bio.NC"/>
    <category term="cs.LG"/>
    <link href="http://arxiv.org/abs/2401.12345v2" rel="alternate" type="text/html"/>
    <link href="http://arxiv.org/pdf/2401.12345v2" rel="related" type="application/pdf"/>
    <arxiv:doi>10.1000/example.2024</arxiv:doi>
    <arxiv:journal_ref>Journal of Examples 12 (2024)</arxiv:journal_ref>
  </entry>
</feed>`

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := &config.Config{
		ArxivBaseURL:        server.URL,
		MaxPapersPerRequest: 30,
	}
	return NewFetcher(cfg, zap.NewNop())
}

func TestFetcher_SearchParsesFeed(t *testing.T) {
	var gotQuery string
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		assert.Equal(t, "submittedDate", r.URL.Query().Get("sortBy"))
		assert.Equal(t, "descending", r.URL.Query().Get("sortOrder"))
		w.Write([]byte(sampleFeed))
	})

	papers, err := fetcher.Search(context.Background(), providers.SearchFilters{
		Topics:     []string{"q-bio.NC", "cs.LG"},
		Keywords:   []string{"sleep"},
		MaxResults: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, `(cat:q-bio.NC OR cat:cs.LG) AND (all:"sleep")`, gotQuery)

	require.Len(t, papers, 1)
	paper := papers[0]
	assert.Equal(t, "2401.12345v2", paper.ID)
	assert.Equal(t, "Sleep Deprivation and Memory Consolidation", paper.Title)
	assert.Equal(t, "We study the effect of sleep deprivation on recall.", paper.Abstract)
	assert.Equal(t, []string{"Ada Example", "Grace Sample"}, []string(paper.Authors))
	assert.Equal(t, []string{"q-bio.NC", "cs.LG"}, []string(paper.Topics))
	assert.Equal(t, "10.1000/example.2024", paper.DOI)
	assert.Equal(t, "Journal of Examples 12 (2024)", paper.Journal)
	assert.Equal(t, "http://arxiv.org/abs/2401.12345v2", paper.URL)
	require.NotNil(t, paper.PublishedAt)
	assert.Equal(t, 2024, paper.PublishedAt.Year())
}

func TestFetcher_SearchRateLimited(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := fetcher.Search(context.Background(), providers.SearchFilters{Topics: []string{"cs.LG"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrRateLimited)
}

func TestFetcher_FetchByID(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2401.12345v2", r.URL.Query().Get("id_list"))
		w.Write([]byte(sampleFeed))
	})

	paper, err := fetcher.FetchByID(context.Background(), "2401.12345v2")
	require.NoError(t, err)
	assert.Equal(t, "2401.12345v2", paper.ID)
}

func TestFetcher_FetchByIDUnknown(t *testing.T) {
	empty := `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><entry><id></id><title></title></entry></feed>`
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(empty))
	})

	_, err := fetcher.FetchByID(context.Background(), "0000.00000")
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name    string
		filters providers.SearchFilters
		want    string
	}{
		{
			name:    "topics only",
			filters: providers.SearchFilters{Topics: []string{"q-bio.NC"}},
			want:    "(cat:q-bio.NC)",
		},
		{
			name:    "keywords only",
			filters: providers.SearchFilters{Keywords: []string{"sleep", "memory"}},
			want:    `(all:"sleep" OR all:"memory")`,
		},
		{
			name:    "empty filters fall back to wildcard",
			filters: providers.SearchFilters{},
			want:    "all:*",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildQuery(tt.filters))
		})
	}
}

func TestEntryID(t *testing.T) {
	assert.Equal(t, "2401.12345v2", entryID("http://arxiv.org/abs/2401.12345v2"))
	assert.Equal(t, "2401.12345", entryID("2401.12345"))
}

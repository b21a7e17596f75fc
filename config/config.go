package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBPath string `envconfig:"DB_PATH" default:"paper-tutor.db"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4242"`

	ArxivBaseURL         string        `envconfig:"ARXIV_BASE_URL" default:"https://export.arxiv.org/api/query"`
	ArxivRequestInterval time.Duration `envconfig:"ARXIV_REQUEST_INTERVAL" default:"3s"`
	MaxPapersPerRequest  int           `envconfig:"MAX_PAPERS_PER_REQUEST" default:"30"`
	DefaultFetchLimit    int           `envconfig:"DEFAULT_PAPER_FETCH_LIMIT" default:"10"`
	APICacheDuration     time.Duration `envconfig:"API_CACHE_DURATION" default:"1h"`

	SemanticScholarBaseURL string `envconfig:"SEMANTIC_SCHOLAR_BASE_URL" default:"https://api.semanticscholar.org"`
	SemanticScholarAPIKey  string `envconfig:"SEMANTIC_SCHOLAR_API_KEY"`

	AnthropicBaseURL string `envconfig:"ANTHROPIC_BASE_URL" default:"https://api.anthropic.com"`
	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel   string `envconfig:"ANTHROPIC_MODEL" default:"claude-3-5-sonnet-20241022"`

	// Claude erlaubt ca. 5 RPM; 15s Abstand ist die sichere Untergrenze.
	ModelRequestInterval time.Duration `envconfig:"MODEL_REQUEST_INTERVAL" default:"15s"`
	ModelTimeout         time.Duration `envconfig:"MODEL_TIMEOUT" default:"30s"`
	ModelMaxRetries      int           `envconfig:"MODEL_MAX_RETRIES" default:"3"`
	ModelRetryBaseDelay  time.Duration `envconfig:"MODEL_RETRY_BASE_DELAY" default:"15s"`

	QuestionsPerPaper int    `envconfig:"QUESTIONS_PER_PAPER" default:"10"`
	SweepBatchSize    int    `envconfig:"SWEEP_BATCH_SIZE" default:"3"`
	CronSchedule      string `envconfig:"CRON_SCHEDULE" default:"@every 5m"`

	AnkiConnectURL string `envconfig:"ANKI_CONNECT_URL" default:"http://localhost:8765"`
	AnkiDeckName   string `envconfig:"ANKI_DECK_NAME" default:"Paper Tutor"`

	APISecretKey string `envconfig:"API_SECRET_KEY"`
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}

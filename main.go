package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"paper-tutor/anki"
	"paper-tutor/anthropic"
	"paper-tutor/config"
	"paper-tutor/models"
	"paper-tutor/providers"
	"paper-tutor/providers/arxiv"
	"paper-tutor/providers/semanticscholar"
	"paper-tutor/services"
	"paper-tutor/storage"
)

var (
	questionsGeneratedCounter prometheus.Counter
	answersRecordedCounter    prometheus.Counter
)

func init() {
	questionsGeneratedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "questions_generated_total",
			Help: "Total number of questions generated.",
		},
	)
	answersRecordedCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "answers_recorded_total",
			Help: "Total number of answer attempts recorded.",
		},
	)
	prometheus.MustRegister(questionsGeneratedCounter, answersRecordedCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

// respondError bildet die Fehler-Taxonomie der Services auf HTTP-Status ab.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var validationErr *services.ValidationError
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.Is(err, services.ErrExhaustedRetries):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrOffline):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		log.Error("Unerwarteter Fehler", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	// Store öffnen. Ein blockierter oder nicht verfügbarer Store ist beim
	// Start fatal; später auftretende Store-Fehler werden nur protokolliert.
	store, err := storage.Open(cfg.DBPath, logging)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrBlocked):
			logging.Fatal("Store wird von einer anderen Session blockiert", zap.Error(err))
		case errors.Is(err, storage.ErrUnavailable):
			logging.Fatal("Store kann nicht geöffnet werden", zap.Error(err))
		default:
			logging.Fatal("Store-Initialisierung fehlgeschlagen", zap.Error(err))
		}
	}
	defer store.Close()
	logging.Info("Store geöffnet", zap.String("path", cfg.DBPath))

	// Setup Services
	clock := services.RealClock()
	arxivFetcher := arxiv.NewFetcher(cfg, logging)
	enricher := semanticscholar.NewFetcher(cfg, logging)
	llmClient := anthropic.NewClient(cfg, logging)
	ankiClient := anki.NewClient(cfg, logging)

	fetchService := services.NewFetchService(cfg, store, logging, arxivFetcher, enricher, clock)
	statsService := services.NewStatsService(store, logging, clock)
	costService := services.NewCostService(store, logging)
	generatorService := services.NewGeneratorService(cfg, store, logging, llmClient, fetchService, statsService, costService, clock)
	exportService := services.NewExportService(store, ankiClient, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"online": fetchService.IsOnline(),
		})
	})

	// Setup Routes
	setupPaperRoutes(router, store, fetchService, generatorService, exportService, logging)
	setupQuestionRoutes(router, store, generatorService, exportService, logging)
	setupStatsRoutes(router, statsService, logging)
	setupSettingsRoutes(router, store, logging)
	setupCostRoutes(router, costService, logging)

	// Setup Cron: Hintergrund-Sweep generiert Fragen für Papers ohne Satz.
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Starte geplanten Sweep...")
		count, err := generatorService.RunSweep(context.Background())
		if err != nil {
			logging.Error("Sweep fehlgeschlagen", zap.Error(err))
			return
		}
		if count > 0 {
			questionsGeneratedCounter.Add(float64(count))
		}
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func setupPaperRoutes(router *gin.Engine, store *storage.Store, fetchService *services.FetchService, generator *services.GeneratorService, exporter *services.ExportService, log *zap.Logger) {
	rg := router.Group("/papers")

	rg.GET("/", func(c *gin.Context) {
		papers, err := store.ListPapers()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, papers)
	})

	rg.POST("/search", func(c *gin.Context) {
		var req struct {
			Topics     []string `json:"topics"`
			Keywords   []string `json:"keywords"`
			MaxResults int      `json:"max_results"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		var papers []*models.Paper
		var err error
		if len(req.Topics) == 0 && len(req.Keywords) == 0 {
			// Ohne explizite Filter gelten die gespeicherten Einstellungen.
			papers, err = fetchService.SearchForSettings(c.Request.Context())
		} else {
			papers, err = fetchService.Search(c.Request.Context(), providers.SearchFilters{
				Topics:     req.Topics,
				Keywords:   req.Keywords,
				MaxResults: req.MaxResults,
			})
		}
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, papers)
	})

	rg.GET("/:id", func(c *gin.Context) {
		paper, err := fetchService.GetPaper(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, paper)
	})

	rg.GET("/:id/questions", func(c *gin.Context) {
		questions, err := store.QuestionsByPaper(c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, questions)
	})

	rg.POST("/:id/questions/ensure", func(c *gin.Context) {
		minCount, _ := strconv.Atoi(c.DefaultQuery("min_count", "0"))
		questions, generated, err := generator.EnsureQuestions(c.Request.Context(), c.Param("id"), minCount)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if generated {
			questionsGeneratedCounter.Add(float64(len(questions)))
		}
		c.JSON(http.StatusOK, gin.H{"questions": questions, "generated": generated})
	})

	rg.POST("/:id/export", func(c *gin.Context) {
		count, err := exporter.ExportPaper(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exported": count})
	})
}

func setupQuestionRoutes(router *gin.Engine, store *storage.Store, generator *services.GeneratorService, exporter *services.ExportService, log *zap.Logger) {
	rg := router.Group("/questions")

	rg.GET("/recent", func(c *gin.Context) {
		questions, err := store.RecentQuestions()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, questions)
	})

	rg.GET("/by-type/:type", func(c *gin.Context) {
		questions, err := store.QuestionsByType(c.Param("type"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, questions)
	})

	rg.GET("/needing-revision", func(c *gin.Context) {
		questions, err := store.QuestionsNeedingRevision()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, questions)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		if err := store.DeleteQuestion(c.Param("id")); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
	})

	rg.POST("/:id/answer", func(c *gin.Context) {
		var req struct {
			Answer     string `json:"answer" binding:"required"`
			Confidence int    `json:"confidence"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'answer' field is required."})
			return
		}
		result, err := generator.SubmitAnswer(c.Request.Context(), c.Param("id"), req.Answer, req.Confidence)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if result.Graded {
			answersRecordedCounter.Inc()
		}
		c.JSON(http.StatusOK, result)
	})

	rg.POST("/:id/feedback", func(c *gin.Context) {
		var req struct {
			Category string `json:"category" binding:"required"`
			Comment  string `json:"comment"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'category' field is required."})
			return
		}
		if err := generator.SubmitFeedback(c.Request.Context(), c.Param("id"), req.Category, req.Comment); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "feedback recorded"})
	})

	rg.POST("/:id/followup", func(c *gin.Context) {
		var req struct {
			Question string `json:"question" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'question' field is required."})
			return
		}
		answer, err := generator.FollowUp(c.Request.Context(), c.Param("id"), req.Question)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	})

	rg.POST("/:id/export", func(c *gin.Context) {
		if err := exporter.ExportQuestion(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "exported"})
	})

	rg.POST("/clear", func(c *gin.Context) {
		if err := store.ClearQuestions(); err != nil {
			respondError(c, log, err)
			return
		}
		log.Info("Alle Fragen gelöscht.")
		c.JSON(http.StatusOK, gin.H{"message": "all questions cleared"})
	})
}

func setupStatsRoutes(router *gin.Engine, stats *services.StatsService, log *zap.Logger) {
	rg := router.Group("/stats")

	rg.GET("/", func(c *gin.Context) {
		st, err := stats.Current()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	rg.POST("/recompute", func(c *gin.Context) {
		st, err := stats.RecomputeFromHistory()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, st)
	})

	rg.POST("/reset", func(c *gin.Context) {
		if err := stats.Reset(); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "stats reset"})
	})
}

func setupSettingsRoutes(router *gin.Engine, store *storage.Store, log *zap.Logger) {
	rg := router.Group("/settings")

	rg.GET("/", func(c *gin.Context) {
		settings, err := store.GetSettings()
		if err != nil {
			respondError(c, log, err)
			return
		}
		if settings == nil {
			settings = models.DefaultSettings()
		}
		c.JSON(http.StatusOK, settings)
	})

	rg.PUT("/", func(c *gin.Context) {
		var settings models.Settings
		if err := c.ShouldBindJSON(&settings); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := store.SaveSettings(&settings); err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, settings)
	})
}

func setupCostRoutes(router *gin.Engine, costs *services.CostService, log *zap.Logger) {
	rg := router.Group("/costs")

	rg.GET("/", func(c *gin.Context) {
		summary, err := costs.Totals()
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/tieubaoca/cramcortex-be/config"
	"github.com/tieubaoca/cramcortex-be/database"
	"github.com/tieubaoca/cramcortex-be/handler"
	"github.com/tieubaoca/cramcortex-be/service"
	"golang.org/x/time/rate"
)

// startServerCmd represents the start command
var startServerCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the analysis server",
	Long:  `Starts a server that accepts exam document uploads and runs the analysis pipeline`,
	Run: func(cmd *cobra.Command, args []string) {

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}

		// Initialize services
		limiter := rate.NewLimiter(rate.Limit(cfg.Pipeline.RequestsPerSec), cfg.Pipeline.BurstSize)

		primary, err := buildPrimaryClassifier(cfg, limiter)
		if err != nil {
			log.Fatalf("Failed to initialize classifier: %v", err)
		}
		classifier := service.NewRouterClassifier(primary, cfg.Pipeline.ClassifyTimeout)
		embedder := service.NewOpenAIEmbedder(cfg.AIEndpoint, cfg.OpenAIAPIKey, cfg.EmbeddingModel, limiter)

		var translator service.Translator
		if cfg.TranslationEnabled {
			translator = service.NewTranslateService(cfg.AIEndpoint, cfg.OpenAIAPIKey, cfg.Model, limiter)
		}

		extractService := service.NewExtractService(cfg.Pipeline.MinTextDensity)
		segmentService := service.NewSegmentService()
		clusterService := service.NewClusterService(cfg.Pipeline.ClusterEpsilon, cfg.Pipeline.MinClusterSize)
		labeler := service.NewContrastLabeler(cfg.Pipeline.TopicKeywords)

		fileService, err := service.NewFileService(cfg.UploadDir)
		if err != nil {
			log.Fatalf("Failed to initialize upload directory: %v", err)
		}

		var sink service.QuestionSink
		var weaviateDb *database.WeaviateStore
		if !cfg.WeaviateStoreConfig.Disabled {
			weaviateDb, err = database.NewWeaviateStore(cfg.WeaviateStoreConfig)
			if err != nil {
				log.Fatalf("Failed to connect to Weaviate database: %v", err)
			}
			sink = weaviateDb
		}

		analyzeService := service.NewAnalyzeService(
			extractService,
			translator,
			segmentService,
			classifier,
			embedder,
			clusterService,
			labeler,
			fileService,
			sink,
			cfg.Pipeline,
		)
		watchService := service.NewWatchService(analyzeService)

		// Initialize handlers
		corsHandler := handler.NewCorsHandler()
		uploadHandler := handler.NewUploadHandler(fileService)
		documentHandler := handler.NewDocumentHandler(fileService, weaviateDb)
		analysisHandler := handler.NewAnalysisHandler(analyzeService, watchService)

		// Setup Gin router
		router := gin.Default()

		// Apply global middleware
		router.Use(corsHandler.CorsMiddleware)

		router.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "ok"})
		})

		apiV1 := router.Group("/api/v1")
		{
			apiV1.POST("/documents/upload", uploadHandler.UploadDocumentHandler)
			apiV1.GET("/documents/:id", documentHandler.ServeDocument)
			apiV1.DELETE("/documents/:id", documentHandler.DeleteDocument)
			apiV1.POST("/analyze", analysisHandler.HandleAnalyze)
			apiV1.GET("/analysis/:id/status", analysisHandler.HandleStatus)
			apiV1.GET("/analysis/:id/result", analysisHandler.HandleResult)
			apiV1.DELETE("/analysis/:id", analysisHandler.HandleCancel)
			apiV1.GET("/analysis/:id/watch", analysisHandler.HandleWatch)
		}

		if weaviateDb != nil {
			searchHandler := handler.NewSearchHandler(weaviateDb, embedder)
			apiV1.GET("/questions/search", searchHandler.HandleSearch)
		}

		log.Printf("Starting server on port %s...\n", cfg.Port)
		if err := router.Run(":" + cfg.Port); err != nil {
			log.Fatal("Server error:", err)
		}
	},
}

func buildPrimaryClassifier(cfg *config.Config, limiter *rate.Limiter) (service.Classifier, error) {
	switch cfg.AIProvider {
	case "gemini":
		return service.NewGeminiClassifier(cfg.GeminiKeys(), cfg.Model, limiter)
	default:
		return service.NewOpenAIClassifier(cfg.AIEndpoint, cfg.OpenAIAPIKey, cfg.Model, limiter), nil
	}
}

func init() {
	rootCmd.AddCommand(startServerCmd)
	startServerCmd.Flags().StringP("config", "c", "config/config.yaml", "config file")
}

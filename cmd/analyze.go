/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/tieubaoca/cramcortex-be/config"
	"github.com/tieubaoca/cramcortex-be/database"
	"github.com/tieubaoca/cramcortex-be/service"
	"golang.org/x/time/rate"
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a local exam document",
	Long: `Runs the full analysis pipeline on a local file and prints the result
as JSON. No server is started; classification and embedding use the
configured AI provider directly. For example:

cramcortex-be analyze -f exam.pdf`,
	Run: func(cmd *cobra.Command, args []string) {
		filePath, _ := cmd.Flags().GetString("file")
		if filePath == "" {
			log.Fatal("no input file, use --file")
		}
		baseURL, _ := cmd.Flags().GetString("base-url")
		model := cmd.Flag("model").Value.String()
		embeddingModel := cmd.Flag("embedding-model").Value.String()
		databaseURL, _ := cmd.Flags().GetString("database-url")
		reinit, _ := cmd.Flags().GetBool("reinit")
		translate, _ := cmd.Flags().GetBool("translate")
		apiKey := os.Getenv("OPENAI_API_KEY")

		pipelineCfg := config.DefaultPipelineConfig()
		limiter := rate.NewLimiter(rate.Limit(pipelineCfg.RequestsPerSec), pipelineCfg.BurstSize)

		classifier := service.NewRouterClassifier(
			service.NewOpenAIClassifier(baseURL, apiKey, model, limiter),
			pipelineCfg.ClassifyTimeout,
		)
		embedder := service.NewOpenAIEmbedder(baseURL, apiKey, embeddingModel, limiter)

		var translator service.Translator
		if translate {
			translator = service.NewTranslateService(baseURL, apiKey, model, limiter)
		}

		fileService, err := service.NewFileService(os.TempDir())
		if err != nil {
			log.Fatalf("Failed to initialize working directory: %v", err)
		}
		document, err := fileService.SaveLocal(filePath)
		if err != nil {
			log.Fatalf("Failed to stage file: %v", err)
		}
		defer fileService.Delete(document.ID)

		var sink service.QuestionSink
		if databaseURL != "" {
			weaviateDb, err := database.NewWeaviateStore(config.WeaviateStoreConfig{
				Host:   databaseURL,
				APIKey: os.Getenv("WEAVIATE_APIKEY"),
			})
			if err != nil {
				log.Fatalf("Failed to connect to Weaviate database: %v", err)
			}
			if reinit {
				if err := weaviateDb.ReInit(); err != nil {
					log.Fatalf("Failed to reinitialize Weaviate database: %v", err)
				}
			}
			sink = weaviateDb
		}

		analyzeService := service.NewAnalyzeService(
			service.NewExtractService(pipelineCfg.MinTextDensity),
			translator,
			service.NewSegmentService(),
			classifier,
			embedder,
			service.NewClusterService(pipelineCfg.ClusterEpsilon, pipelineCfg.MinClusterSize),
			service.NewContrastLabeler(pipelineCfg.TopicKeywords),
			fileService,
			sink,
			pipelineCfg,
		)

		result, err := analyzeService.Analyze(context.Background(), document.ID)
		if err != nil {
			log.Fatalf("Analysis failed: %v", err)
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
		fmt.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("file", "f", "", "Path to the document to analyze")
	analyzeCmd.Flags().StringP("base-url", "u", "https://api.openai.com/v1", "Base URL for the AI service")
	analyzeCmd.Flags().String("model", "gpt-4o-mini", "Model to use for classification")
	analyzeCmd.Flags().String("embedding-model", "text-embedding-3-small", "Model to use for embeddings")
	analyzeCmd.Flags().StringP("database-url", "d", "", "URL for the Weaviate database (empty to skip indexing)")
	analyzeCmd.Flags().BoolP("reinit", "r", false, "Reinitialize the question index")
	analyzeCmd.Flags().BoolP("translate", "t", false, "Translate Hebrew documents to English before analysis")
}

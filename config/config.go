package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string              `mapstructure:"port"`
	UploadDir           string              `mapstructure:"upload_dir"`
	AIProvider          string              `mapstructure:"ai_provider"` // "openai" or "gemini"
	AIEndpoint          string              `mapstructure:"ai_endpoint"`
	Model               string              `mapstructure:"model"`
	EmbeddingModel      string              `mapstructure:"embedding_model"`
	TranslationEnabled  bool                `mapstructure:"translation_enabled"`
	OpenAIAPIKey        string              `mapstructure:"OPENAI_API_KEY"`
	GeminiAPIKeys       string              `mapstructure:"GEMINI_API_KEYS"` // comma separated
	Pipeline            PipelineConfig      `mapstructure:"pipeline"`
	WeaviateStoreConfig WeaviateStoreConfig `mapstructure:"weaviate_store_config"`
}

// PipelineConfig carries the tunables of the analysis pipeline.
type PipelineConfig struct {
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	ClassifyTimeout time.Duration `mapstructure:"classify_timeout"`
	DocumentTimeout time.Duration `mapstructure:"document_timeout"`
	MinClusterSize  int           `mapstructure:"min_cluster_size"`
	ClusterEpsilon  float64       `mapstructure:"cluster_epsilon"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec"`
	BurstSize       int           `mapstructure:"burst_size"`
	MinTextDensity  float64       `mapstructure:"min_text_density"`
	TopicKeywords   int           `mapstructure:"topic_keywords"`
}

type WeaviateStoreConfig struct {
	Host     string `mapstructure:"host"`
	APIKey   string `mapstructure:"WEAVIATE_APIKEY"`
	Disabled bool   `mapstructure:"disabled"`
}

// GeminiKeys splits the comma separated key list.
func (c *Config) GeminiKeys() []string {
	if c.GeminiAPIKeys == "" {
		return nil
	}
	parts := strings.Split(c.GeminiAPIKeys, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("ai_provider", "openai")
	v.SetDefault("model", "gpt-4o-mini")
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("translation_enabled", false)
	setPipelineDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	v.BindEnv("OPENAI_API_KEY")
	v.BindEnv("GEMINI_API_KEYS")
	v.BindEnv("weaviate_store_config.WEAVIATE_APIKEY", "WEAVIATE_APIKEY")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func setPipelineDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.max_concurrency", 3)
	v.SetDefault("pipeline.classify_timeout", 30*time.Second)
	v.SetDefault("pipeline.document_timeout", 5*time.Minute)
	v.SetDefault("pipeline.min_cluster_size", 3)
	v.SetDefault("pipeline.cluster_epsilon", 0.35)
	v.SetDefault("pipeline.requests_per_sec", 3.0)
	v.SetDefault("pipeline.burst_size", 5)
	v.SetDefault("pipeline.min_text_density", 0.6)
	v.SetDefault("pipeline.topic_keywords", 5)
}

// DefaultPipelineConfig returns the defaults used when no config file is
// present, e.g. for the one-shot analyze command.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxConcurrency:  3,
		ClassifyTimeout: 30 * time.Second,
		DocumentTimeout: 5 * time.Minute,
		MinClusterSize:  3,
		ClusterEpsilon:  0.35,
		RequestsPerSec:  3.0,
		BurstSize:       5,
		MinTextDensity:  0.6,
		TopicKeywords:   5,
	}
}

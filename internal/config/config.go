// Package config provides configuration management for Keepsake.
// It loads settings from environment variables with the KEEPSAKE_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Keepsake application.
type Config struct {
	Storage       StorageConfig
	Tiering       TieringConfig
	Decay         DecayConfig
	Consolidation ConsolidationConfig
	Cache         CacheConfig
	Pipeline      PipelineConfig
	LLM           LLMConfig
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Cold storage engine: sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory for sqlite (default: ./data)
	PostgresDSN   string // Connection string when StorageEngine is postgres
}

// TieringConfig contains hot/cold tiering configuration.
type TieringConfig struct {
	HotFactLimit int // Max facts held in the hot tier per principal pool (default: 200)
}

// DecayConfig contains confidence decay and pruning configuration.
type DecayConfig struct {
	EphemeralTTLHours      int     // TTL for ephemeral predicates (default: 24)
	ShortTTLHours          int     // TTL for low-confidence facts (default: 72)
	LongTTLHours           int     // TTL for high-confidence facts (default: 720)
	ConfidenceThreshold    float64 // Boundary between short and long TTL (default: 0.7)
	ReinforcementThreshold int     // Access count that exempts a fact from decay (default: 3)
}

// ConsolidationConfig contains memory stage promotion configuration.
type ConsolidationConfig struct {
	ShortTermHours          int           // Age before short_term can become working (default: 24)
	WorkingHours            int           // Age before working can become long_term (default: 168)
	WorkingAccessThreshold  int           // Accesses that promote to working regardless of age (default: 3)
	LongTermAccessThreshold int           // Accesses required for long_term (default: 5)
	SweepInterval           time.Duration // Interval between maintenance sweeps (default: 1h)
}

// CacheConfig contains query cache configuration.
type CacheConfig struct {
	TTL                 time.Duration // Entry lifetime (default: 5m)
	SimilarityThreshold float64       // Token overlap for a near-match hit (default: 0.85)
	MaxSize             int           // Per-principal entry cap (default: 100)
}

// PipelineConfig contains extraction pipeline configuration.
type PipelineConfig struct {
	QueueSize       int           // Task queue buffer size (default: 1000)
	MinConfidence   float64       // Minimum confidence for proposed operations (default: 0.5)
	LookbackLimit   int           // Current facts fetched as extraction context (default: 100)
	ShutdownTimeout time.Duration // Max wait for the consumer on shutdown (default: 30s)
}

// LLMConfig contains extraction model provider configuration.
type LLMConfig struct {
	OllamaURL         string        // Ollama API URL (default: http://localhost:11434)
	OllamaModel       string        // Ollama model name for extraction (default: qwen2.5:7b)
	CallTimeout       time.Duration // Per-call timeout (default: 30s)
	MaxFailures       int           // Consecutive failures before the breaker opens (default: 3)
	OpenTimeout       time.Duration // How long the breaker stays open (default: 30s)
	RequestsPerMinute int           // Outbound rate limit (default: 60)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the KEEPSAKE_ prefix.
func LoadConfig() (*Config, error) {
	return &Config{
		Storage: StorageConfig{
			StorageEngine: getEnv("KEEPSAKE_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("KEEPSAKE_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("KEEPSAKE_POSTGRES_DSN", ""),
		},
		Tiering: TieringConfig{
			HotFactLimit: getEnvInt("KEEPSAKE_HOT_FACT_LIMIT", 200),
		},
		Decay: DecayConfig{
			EphemeralTTLHours:      getEnvInt("KEEPSAKE_EPHEMERAL_TTL_HOURS", 24),
			ShortTTLHours:          getEnvInt("KEEPSAKE_SHORT_TTL_HOURS", 72),
			LongTTLHours:           getEnvInt("KEEPSAKE_LONG_TTL_HOURS", 720),
			ConfidenceThreshold:    getEnvFloat("KEEPSAKE_CONFIDENCE_THRESHOLD", 0.7),
			ReinforcementThreshold: getEnvInt("KEEPSAKE_REINFORCEMENT_THRESHOLD", 3),
		},
		Consolidation: ConsolidationConfig{
			ShortTermHours:          getEnvInt("KEEPSAKE_SHORT_TERM_HOURS", 24),
			WorkingHours:            getEnvInt("KEEPSAKE_WORKING_HOURS", 168),
			WorkingAccessThreshold:  getEnvInt("KEEPSAKE_WORKING_ACCESS_THRESHOLD", 3),
			LongTermAccessThreshold: getEnvInt("KEEPSAKE_LONG_TERM_ACCESS_THRESHOLD", 5),
			SweepInterval:           getEnvDuration("KEEPSAKE_SWEEP_INTERVAL", time.Hour),
		},
		Cache: CacheConfig{
			TTL:                 getEnvDuration("KEEPSAKE_CACHE_TTL", 5*time.Minute),
			SimilarityThreshold: getEnvFloat("KEEPSAKE_CACHE_SIMILARITY_THRESHOLD", 0.85),
			MaxSize:             getEnvInt("KEEPSAKE_CACHE_MAX_SIZE", 100),
		},
		Pipeline: PipelineConfig{
			QueueSize:       getEnvInt("KEEPSAKE_PIPELINE_QUEUE_SIZE", 1000),
			MinConfidence:   getEnvFloat("KEEPSAKE_PIPELINE_MIN_CONFIDENCE", 0.5),
			LookbackLimit:   getEnvInt("KEEPSAKE_PIPELINE_LOOKBACK_LIMIT", 100),
			ShutdownTimeout: getEnvDuration("KEEPSAKE_PIPELINE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			OllamaURL:         getEnv("KEEPSAKE_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("KEEPSAKE_OLLAMA_MODEL", "qwen2.5:7b"),
			CallTimeout:       getEnvDuration("KEEPSAKE_LLM_CALL_TIMEOUT", 30*time.Second),
			MaxFailures:       getEnvInt("KEEPSAKE_LLM_MAX_FAILURES", 3),
			OpenTimeout:       getEnvDuration("KEEPSAKE_LLM_OPEN_TIMEOUT", 30*time.Second),
			RequestsPerMinute: getEnvInt("KEEPSAKE_LLM_REQUESTS_PER_MINUTE", 60),
		},
	}, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as a float,
// it returns the default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "5m") or returns a default value. If the environment variable
// exists but cannot be parsed, it returns the default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

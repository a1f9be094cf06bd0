package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	App      AppConfig
	Analysis AnalysisConfig
	AI       AIConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
}

// AnalysisConfig holds the chunking, retry and sampling parameters of the
// analysis pipeline. Deployments differ mostly in ChunkSize, so every field is
// validated instead of assumed.
type AnalysisConfig struct {
	ChunkSize         int
	ChunkThreshold    int
	MaxParallelChunks int
	MaxRetries        int
	BaseDelay         time.Duration
	PriorityCap       int
	NormalCap         int
	MaxPayloadBytes   int
	ExcerptChars      int
	AutoAnalyze       bool
	ResumeCron        string
}

// AIConfig is the environment fallback for the provider settings stored in
// system_config. Values saved through the API win over these.
type AIConfig struct {
	Provider     string
	Model        string
	GeminiAPIKey string
	OpenAIAPIKey string
	Endpoint     string
	RateRPM      int
	Timeout      time.Duration
}

type StorageConfig struct {
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	UploadsBucket string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"http://localhost:5173"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "adsec"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
		Analysis: AnalysisConfig{
			ChunkSize:         getEnvAsInt("ANALYSIS_CHUNK_SIZE", 50),
			ChunkThreshold:    getEnvAsInt("ANALYSIS_CHUNK_THRESHOLD", 100),
			MaxParallelChunks: getEnvAsInt("ANALYSIS_MAX_PARALLEL", 3),
			MaxRetries:        getEnvAsInt("ANALYSIS_MAX_RETRIES", 3),
			BaseDelay:         time.Duration(getEnvAsInt("ANALYSIS_BASE_DELAY_MS", 2000)) * time.Millisecond,
			PriorityCap:       getEnvAsInt("ANALYSIS_PRIORITY_CAP", 4500),
			NormalCap:         getEnvAsInt("ANALYSIS_NORMAL_CAP", 500),
			MaxPayloadBytes:   getEnvAsInt("ANALYSIS_MAX_PAYLOAD_BYTES", 60000),
			ExcerptChars:      getEnvAsInt("ANALYSIS_EXCERPT_CHARS", 8000),
			AutoAnalyze:       getEnvAsBool("AUTO_ANALYZE", true),
			ResumeCron:        getEnv("RESUME_CRON", "@every 5m"),
		},
		AI: AIConfig{
			Provider:     strings.ToLower(getEnv("AI_PROVIDER", "gemini")),
			Model:        getEnv("AI_MODEL", ""),
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
			Endpoint:     getEnv("AI_ENDPOINT", ""),
			RateRPM:      getEnvAsInt("AI_RATE_RPM", 60),
			Timeout:      time.Duration(getEnvAsInt("AI_TIMEOUT_SECONDS", 300)) * time.Second,
		},
		Storage: StorageConfig{
			S3Endpoint:    getEnv("S3_ENDPOINT", ""),
			S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
			S3UseSSL:      getEnvAsBool("S3_USE_SSL", false),
			UploadsBucket: getEnv("UPLOADS_BUCKET", "assessment-uploads"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	return c.Analysis.Validate()
}

// Validate rejects parameter combinations the scheduler cannot honour.
func (a AnalysisConfig) Validate() error {
	if a.ChunkSize < 1 {
		return fmt.Errorf("ANALYSIS_CHUNK_SIZE must be >= 1, got %d", a.ChunkSize)
	}
	if a.ChunkThreshold < 1 {
		return fmt.Errorf("ANALYSIS_CHUNK_THRESHOLD must be >= 1, got %d", a.ChunkThreshold)
	}
	if a.MaxParallelChunks < 1 {
		return fmt.Errorf("ANALYSIS_MAX_PARALLEL must be >= 1, got %d", a.MaxParallelChunks)
	}
	if a.MaxRetries < 1 {
		return fmt.Errorf("ANALYSIS_MAX_RETRIES must be >= 1, got %d", a.MaxRetries)
	}
	if a.BaseDelay < 0 {
		return fmt.Errorf("ANALYSIS_BASE_DELAY_MS must not be negative")
	}
	if a.PriorityCap < 1 || a.NormalCap < 0 {
		return fmt.Errorf("ANALYSIS_PRIORITY_CAP must be >= 1 and ANALYSIS_NORMAL_CAP >= 0")
	}
	if a.MaxPayloadBytes < 1024 {
		return fmt.Errorf("ANALYSIS_MAX_PAYLOAD_BYTES must be >= 1024, got %d", a.MaxPayloadBytes)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean for %s, using default: %t", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAnalysis() AnalysisConfig {
	return AnalysisConfig{
		ChunkSize:         50,
		ChunkThreshold:    100,
		MaxParallelChunks: 3,
		MaxRetries:        3,
		BaseDelay:         2 * time.Second,
		PriorityCap:       4500,
		NormalCap:         500,
		MaxPayloadBytes:   60000,
	}
}

func TestAnalysisConfig_Validate(t *testing.T) {
	require.NoError(t, validAnalysis().Validate())

	tests := []struct {
		name   string
		mutate func(*AnalysisConfig)
		want   string
	}{
		{"zero chunk size", func(a *AnalysisConfig) { a.ChunkSize = 0 }, "ANALYSIS_CHUNK_SIZE"},
		{"zero threshold", func(a *AnalysisConfig) { a.ChunkThreshold = 0 }, "ANALYSIS_CHUNK_THRESHOLD"},
		{"no parallelism", func(a *AnalysisConfig) { a.MaxParallelChunks = 0 }, "ANALYSIS_MAX_PARALLEL"},
		{"no attempts", func(a *AnalysisConfig) { a.MaxRetries = 0 }, "ANALYSIS_MAX_RETRIES"},
		{"negative delay", func(a *AnalysisConfig) { a.BaseDelay = -time.Second }, "ANALYSIS_BASE_DELAY_MS"},
		{"negative normal cap", func(a *AnalysisConfig) { a.NormalCap = -1 }, "ANALYSIS_NORMAL_CAP"},
		{"tiny payload", func(a *AnalysisConfig) { a.MaxPayloadBytes = 100 }, "ANALYSIS_MAX_PAYLOAD_BYTES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAnalysis()
			tt.mutate(&a)
			assert.ErrorContains(t, a.Validate(), tt.want)
		})
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("AI_PROVIDER", "OpenAI")
	t.Setenv("ANALYSIS_CHUNK_SIZE", "25")
	t.Setenv("AUTO_ANALYZE", "false")
	t.Setenv("ANALYSIS_BASE_DELAY_MS", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port, "invalid integers fall back to the default")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 25, cfg.Analysis.ChunkSize)
	assert.False(t, cfg.Analysis.AutoAnalyze)
	assert.Equal(t, 10*time.Millisecond, cfg.Analysis.BaseDelay)
}

func TestLoad_RejectsInvalidAnalysis(t *testing.T) {
	t.Setenv("ANALYSIS_MAX_PARALLEL", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "ANALYSIS_MAX_PARALLEL")
}

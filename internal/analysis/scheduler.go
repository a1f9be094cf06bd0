package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis/provider"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"golang.org/x/sync/errgroup"
)

// SchedulerConfig controls chunking of one category
type SchedulerConfig struct {
	ChunkSize         int
	ChunkThreshold    int
	MaxParallelChunks int
	MaxPayloadBytes   int
}

// CategoryInput is everything the scheduler needs for one category
type CategoryInput struct {
	Category Category
	Records  []Record
	Stats    *UserStats
	Note     string
	// Log receives progress lines for the assessment log; may be nil
	Log func(level, message string)
}

func (in CategoryInput) logf(level, format string, args ...any) {
	if in.Log != nil {
		in.Log(level, fmt.Sprintf(format, args...))
	}
}

// Scheduler splits a category into chunks and analyses them in windows of
// at most MaxParallelChunks concurrent provider calls.
type Scheduler struct {
	cfg     SchedulerConfig
	prompts *PromptBuilder
	retry   RetryPolicy
}

// NewScheduler creates a Scheduler
func NewScheduler(cfg SchedulerConfig, prompts *PromptBuilder, retry RetryPolicy) *Scheduler {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 50
	}
	if cfg.ChunkThreshold < 1 {
		cfg.ChunkThreshold = 100
	}
	if cfg.MaxParallelChunks < 1 {
		cfg.MaxParallelChunks = 1
	}
	if cfg.MaxPayloadBytes < 1 {
		cfg.MaxPayloadBytes = 60000
	}
	return &Scheduler{cfg: cfg, prompts: prompts, retry: retry}
}

// Chunks splits records for dispatch. Sets below the threshold are one chunk.
func (s *Scheduler) Chunks(records []Record) [][]Record {
	if len(records) == 0 {
		return nil
	}
	if len(records) < s.cfg.ChunkThreshold {
		return [][]Record{records}
	}
	var chunks [][]Record
	for start := 0; start < len(records); start += s.cfg.ChunkSize {
		end := start + s.cfg.ChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// AnalyzeCategory returns the deduplicated findings of every chunk. Any chunk
// failing after retries fails the whole category.
func (s *Scheduler) AnalyzeCategory(ctx context.Context, ai provider.AIProvider, in CategoryInput) ([]domain.Finding, error) {
	chunks := s.Chunks(in.Records)
	if len(chunks) == 0 {
		return nil, nil
	}
	if len(chunks) > 1 {
		in.logf(domain.LogInfo, "%d records split into %d chunks of up to %d", len(in.Records), len(chunks), s.cfg.ChunkSize)
	}

	results := make([][]domain.Finding, len(chunks))
	window := s.cfg.MaxParallelChunks

	for start := 0; start < len(chunks); start += window {
		end := start + window
		if end > len(chunks) {
			end = len(chunks)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(window)
		for i := start; i < end; i++ {
			g.Go(func() error {
				findings, err := s.analyzeChunk(gctx, ai, in, chunks[i], i, len(chunks))
				if err != nil {
					return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
				}
				results[i] = findings
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var all []domain.Finding
	for _, r := range results {
		all = append(all, r...)
	}
	deduped := DedupeByTitle(all)
	if len(all) != len(deduped) {
		in.logf(domain.LogInfo, "merged %d findings into %d unique titles", len(all), len(deduped))
	}
	return deduped, nil
}

func (s *Scheduler) analyzeChunk(ctx context.Context, ai provider.AIProvider, in CategoryInput, chunk []Record, index, count int) ([]domain.Finding, error) {
	budget := min(s.cfg.MaxPayloadBytes, s.prompts.Budget())
	fit := FitToSize(chunk, budget)
	for _, step := range fit.Steps {
		in.logf(domain.LogWarn, "chunk %d/%d over %d bytes: %s", index+1, count, budget, step)
	}
	if fit.Size > budget {
		in.logf(domain.LogWarn, "chunk %d/%d still %d bytes after size reduction, sending the records that fit", index+1, count, fit.Size)
	}

	prompt := s.prompts.Build(in.Category, Payload{
		Records:    fit.Records,
		Stats:      in.Stats,
		Note:       in.Note,
		ChunkIndex: index,
		ChunkCount: count,
	})

	policy := s.retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		in.logf(domain.LogWarn, "chunk %d/%d attempt %d failed (%s), retrying in %s", index+1, count, attempt, describeError(err), delay)
	}

	var findings []domain.Finding
	err := Retry(ctx, policy, func(ctx context.Context, attempt int) error {
		chunksInflight.Inc()
		defer chunksInflight.Dec()

		started := time.Now()
		raw, err := ai.Complete(ctx, prompt)
		providerLatency.WithLabelValues(ai.Name()).Observe(time.Since(started).Seconds())
		if err != nil {
			providerCalls.WithLabelValues(ai.Name(), "error").Inc()
			return err
		}

		res, err := ParseFindings(raw)
		if err != nil {
			providerCalls.WithLabelValues(ai.Name(), "invalid").Inc()
			return err
		}
		providerCalls.WithLabelValues(ai.Name(), "ok").Inc()

		for _, d := range res.Dropped {
			in.logf(domain.LogWarn, "chunk %d/%d dropped finding %s", index+1, count, d)
		}
		findings = res.Findings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}

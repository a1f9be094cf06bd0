package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/config"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis/provider"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/logging"
)

// AssessmentStore is the assessment row as the pipeline sees it
type AssessmentStore interface {
	GetByID(ctx context.Context, id string) (*domain.Assessment, error)
	UpdateStatus(ctx context.Context, id, status string) error
	ProgressStore
}

// DocumentStore serves uploaded documents and their generation
type DocumentStore interface {
	Get(ctx context.Context, assessmentID string) (*domain.DocumentBlob, error)
	Generation(ctx context.Context, assessmentID string) (int64, error)
}

// FindingStore writes findings per category
type FindingStore interface {
	// Write stores the findings of one category only while the document is
	// still at generation, else it returns domain.ErrDocumentReplaced.
	Write(ctx context.Context, assessmentID, categoryID string, generation int64, findings []domain.Finding) error
	CategoriesWithFindings(ctx context.Context, assessmentID string) ([]string, error)
}

// LogStore persists assessment log lines
type LogStore interface {
	Append(ctx context.Context, entry *domain.AssessmentLog) error
}

// ProviderSource resolves the configured AI provider at the start of a run
type ProviderSource interface {
	Provider(ctx context.Context) (provider.AIProvider, error)
}

// Deps are the collaborators of a Pipeline. Events may be nil.
type Deps struct {
	Assessments AssessmentStore
	Documents   DocumentStore
	Findings    FindingStore
	Logs        LogStore
	Providers   ProviderSource
	Events      EventPublisher
	Catalogue   *Catalogue
	Loader      *DocumentLoader
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
}

// RunSummary describes one finished run
type RunSummary struct {
	AssessmentID string   `json:"assessment_id"`
	Completed    []string `json:"completed"`
	Skipped      []string `json:"skipped"`
	Failed       []string `json:"failed"`
	Resumed      []string `json:"resumed"`
	Findings     int      `json:"findings"`
}

// Pipeline runs the category-by-category analysis of one assessment
type Pipeline struct {
	deps      Deps
	sampler   Sampler
	scheduler *Scheduler
	now       func() time.Time
}

// NewPipeline wires a pipeline from the analysis settings
func NewPipeline(cfg config.AnalysisConfig, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Catalogue == nil {
		cat, err := DefaultCatalogue()
		if err != nil {
			return nil, err
		}
		deps.Catalogue = cat
	}
	if deps.Loader == nil {
		deps.Loader = NewDocumentLoader(8)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	prompts := NewPromptBuilder(deps.Catalogue, cfg.ExcerptChars)
	scheduler := NewScheduler(SchedulerConfig{
		ChunkSize:         cfg.ChunkSize,
		ChunkThreshold:    cfg.ChunkThreshold,
		MaxParallelChunks: cfg.MaxParallelChunks,
		MaxPayloadBytes:   cfg.MaxPayloadBytes,
	}, prompts, RetryPolicy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.BaseDelay,
		Retryable:   IsRetryable,
		Sleep:       deps.Sleep,
	})

	return &Pipeline{
		deps:      deps,
		sampler:   Sampler{PriorityCap: cfg.PriorityCap, NormalCap: cfg.NormalCap, Now: now},
		scheduler: scheduler,
		now:       now,
	}, nil
}

// Run analyses every category not yet completed. Category failures are
// recorded and the run moves on; the assessment only ends failed when the run
// itself cannot continue. A cancelled run leaves the assessment analyzing so
// it can be resumed.
func (p *Pipeline) Run(ctx context.Context, assessmentID string) (*RunSummary, error) {
	logger := logging.NewLogger(ctx).With("assessment_id", assessmentID)

	a, err := p.deps.Assessments.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	blob, err := p.deps.Documents.Get(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	withFindings, err := p.deps.Findings.CategoriesWithFindings(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	tracker := NewTracker(assessmentID, blob.Generation, p.deps.Catalogue.IDs(), a.Progress, withFindings, p.deps.Assessments, p.deps.Events)

	if err := p.deps.Assessments.UpdateStatus(ctx, assessmentID, domain.StatusAnalyzing); err != nil {
		return nil, err
	}
	if err := tracker.Begin(ctx); err != nil {
		return nil, p.fail(ctx, tracker, assessmentID, err)
	}

	summary := &RunSummary{AssessmentID: assessmentID}
	done := tracker.CompletedCategories()
	p.log(ctx, assessmentID, domain.LogInfo, "", fmt.Sprintf("analysis started: %d categories, %d already completed", len(p.deps.Catalogue.Categories), len(done)))

	doc, err := p.deps.Loader.Load(blob)
	if err != nil {
		return nil, p.fail(ctx, tracker, assessmentID, err)
	}
	ai, err := p.deps.Providers.Provider(ctx)
	if err != nil {
		return nil, p.fail(ctx, tracker, assessmentID, err)
	}

	for _, cat := range p.deps.Catalogue.Categories {
		if done[cat.ID] {
			summary.Resumed = append(summary.Resumed, cat.ID)
			categoriesTotal.WithLabelValues("resumed").Inc()
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := p.checkGeneration(ctx, assessmentID, blob.Generation); err != nil {
			return summary, p.stopReplaced(ctx, tracker, assessmentID, err)
		}

		records, err := ExtractCategory(doc, cat)
		if err != nil {
			p.log(ctx, assessmentID, domain.LogWarn, cat.ID, fmt.Sprintf("unreadable payload, skipping: %v", err))
		}
		if len(records) == 0 {
			if err := tracker.RecordCategorySkipped(ctx, cat.ID, "no data"); err != nil {
				return summary, p.fail(ctx, tracker, assessmentID, err)
			}
			summary.Skipped = append(summary.Skipped, cat.ID)
			categoriesTotal.WithLabelValues("skipped").Inc()
			p.log(ctx, assessmentID, domain.LogInfo, cat.ID, "no data, skipped")
			continue
		}

		if err := tracker.RecordCategoryStart(ctx, cat.ID); err != nil {
			return summary, p.fail(ctx, tracker, assessmentID, err)
		}
		p.log(ctx, assessmentID, domain.LogInfo, cat.ID, fmt.Sprintf("analysing %d records", len(records)))

		findings, err := p.analyzeCategory(ctx, ai, assessmentID, cat, records)
		if err == nil {
			err = p.checkGeneration(ctx, assessmentID, blob.Generation)
		}
		if err == nil {
			err = p.deps.Findings.Write(ctx, assessmentID, cat.ID, blob.Generation, findings)
		}
		if errors.Is(err, domain.ErrDocumentReplaced) {
			return summary, p.stopReplaced(ctx, tracker, assessmentID, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			msg := describeError(err)
			logger.LogWarnf("analysis.category", "category %s failed: %v", cat.ID, err)
			p.log(ctx, assessmentID, domain.LogError, cat.ID, "failed: "+msg)
			categoriesTotal.WithLabelValues("failed").Inc()
			summary.Failed = append(summary.Failed, cat.ID)
			if err := tracker.RecordCategoryError(ctx, cat.ID, msg); err != nil {
				return summary, p.fail(ctx, tracker, assessmentID, err)
			}
			continue
		}

		findingsWritten.Add(float64(len(findings)))
		categoriesTotal.WithLabelValues("completed").Inc()
		summary.Completed = append(summary.Completed, cat.ID)
		summary.Findings += len(findings)
		p.log(ctx, assessmentID, domain.LogInfo, cat.ID, fmt.Sprintf("completed with %d findings", len(findings)))
		if err := tracker.RecordCategoryDone(ctx, cat.ID, len(findings)); err != nil {
			return summary, p.fail(ctx, tracker, assessmentID, err)
		}
	}

	if err := tracker.RecordRunFinished(ctx); err != nil {
		return summary, p.fail(ctx, tracker, assessmentID, err)
	}
	if err := p.deps.Assessments.UpdateStatus(ctx, assessmentID, domain.StatusCompleted); err != nil {
		return summary, err
	}
	p.log(ctx, assessmentID, domain.LogInfo, "", fmt.Sprintf("analysis finished: %d completed, %d skipped, %d failed, %d findings",
		len(summary.Completed), len(summary.Skipped), len(summary.Failed), summary.Findings))
	logger.LogInfof("analysis.run", "finished completed=%d skipped=%d failed=%d findings=%d",
		len(summary.Completed), len(summary.Skipped), len(summary.Failed), summary.Findings)
	return summary, nil
}

func (p *Pipeline) analyzeCategory(ctx context.Context, ai provider.AIProvider, assessmentID string, cat Category, records []Record) ([]domain.Finding, error) {
	records = TruncateStrings(records, MaxFieldChars)

	var stats *UserStats
	if cat.Kind == KindUsers {
		s := AggregateUsers(records, p.now())
		stats = &s
	}

	sample := p.sampler.Sample(records, cat.Kind)
	if sample.Note != "" {
		p.log(ctx, assessmentID, domain.LogInfo, cat.ID, sample.Note)
	}

	return p.scheduler.AnalyzeCategory(ctx, ai, CategoryInput{
		Category: cat,
		Records:  sample.Records,
		Stats:    stats,
		Note:     sample.Note,
		Log: func(level, message string) {
			p.log(ctx, assessmentID, level, cat.ID, message)
		},
	})
}

func (p *Pipeline) checkGeneration(ctx context.Context, assessmentID string, loaded int64) error {
	current, err := p.deps.Documents.Generation(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, domain.ErrNoDocument) {
			return domain.ErrDocumentReplaced
		}
		return err
	}
	if current != loaded {
		return domain.ErrDocumentReplaced
	}
	return nil
}

// stopReplaced ends a run whose document was re-uploaded underneath it. The
// progress row already belongs to the new generation and is left alone.
func (p *Pipeline) stopReplaced(ctx context.Context, tracker *Tracker, assessmentID string, err error) error {
	if !errors.Is(err, domain.ErrDocumentReplaced) {
		return p.fail(ctx, tracker, assessmentID, err)
	}
	p.deps.Loader.Forget(assessmentID)
	_ = p.deps.Assessments.UpdateStatus(ctx, assessmentID, domain.StatusUploaded)
	p.log(ctx, assessmentID, domain.LogWarn, "", "analysis stopped: document was replaced by a new upload")
	return err
}

// fail records an error that ends the run and marks the assessment failed
func (p *Pipeline) fail(ctx context.Context, tracker *Tracker, assessmentID string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	_ = tracker.RecordRunError(ctx, err.Error())
	_ = p.deps.Assessments.UpdateStatus(ctx, assessmentID, domain.StatusFailed)
	p.log(ctx, assessmentID, domain.LogError, "", "analysis failed: "+err.Error())
	logging.NewLogger(ctx).LogError("analysis.run", fmt.Errorf("assessment %s: %w", assessmentID, err))
	return err
}

func (p *Pipeline) log(ctx context.Context, assessmentID, level, categoryID, message string) {
	if p.deps.Logs == nil {
		return
	}
	entry := &domain.AssessmentLog{
		AssessmentID: assessmentID,
		Level:        level,
		CategoryID:   categoryID,
		Message:      message,
	}
	if err := p.deps.Logs.Append(ctx, entry); err != nil {
		logging.NewLogger(ctx).LogWarnf("analysis.log", "append log for %s failed: %v", assessmentID, err)
	}
}

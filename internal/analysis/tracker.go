package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
)

// ProgressStore persists progress snapshots
type ProgressStore interface {
	SaveProgress(ctx context.Context, assessmentID string, progress domain.AnalysisProgress) error
}

// EventPublisher fans progress events out to live subscribers
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.ProgressEvent) error
}

// Tracker records per-category status for one run. Every transition is
// stored before it is published.
type Tracker struct {
	mu           sync.Mutex
	assessmentID string
	progress     domain.AnalysisProgress
	store        ProgressStore
	events       EventPublisher
}

// NewTracker seeds the run's progress for one document generation.
// Categories having persisted findings start completed, as do categories
// completed in stored progress of the same generation. Everything else starts
// pending, including categories that failed in an earlier run.
func NewTracker(assessmentID string, generation int64, categoryIDs []string, stored domain.AnalysisProgress, withFindings []string, store ProgressStore, events EventPublisher) *Tracker {
	p := domain.NewProgress(categoryIDs)
	p.Generation = generation
	if stored.Generation == generation {
		p.LastError = stored.LastError
		for _, id := range stored.CompletedIDs() {
			if _, ok := p.Categories[id]; ok {
				p.Set(id, domain.CategoryCompleted)
			}
		}
	}
	for _, id := range withFindings {
		if _, ok := p.Categories[id]; ok {
			p.Set(id, domain.CategoryCompleted)
		}
	}
	return &Tracker{assessmentID: assessmentID, progress: p, store: store, events: events}
}

// CompletedCategories returns the ids already done
func (t *Tracker) CompletedCategories() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range t.progress.CompletedIDs() {
		out[id] = true
	}
	return out
}

// Snapshot returns a copy of the current progress
func (t *Tracker) Snapshot() domain.AnalysisProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.Clone()
}

// Begin persists the seeded progress
func (t *Tracker) Begin(ctx context.Context) error {
	return t.transition(ctx, domain.EventRunStarted, "", "", "", func(p *domain.AnalysisProgress) {})
}

func (t *Tracker) RecordCategoryStart(ctx context.Context, categoryID string) error {
	return t.transition(ctx, domain.EventCategoryStarted, categoryID, domain.CategoryProcessing, "", func(p *domain.AnalysisProgress) {
		p.Set(categoryID, domain.CategoryProcessing)
		p.CurrentCategory = categoryID
	})
}

func (t *Tracker) RecordCategoryDone(ctx context.Context, categoryID string, findings int) error {
	msg := fmt.Sprintf("%d findings", findings)
	return t.transition(ctx, domain.EventCategoryDone, categoryID, domain.CategoryCompleted, msg, func(p *domain.AnalysisProgress) {
		p.Set(categoryID, domain.CategoryCompleted)
		p.CurrentCategory = ""
	})
}

// RecordCategorySkipped marks a category with no data as completed
func (t *Tracker) RecordCategorySkipped(ctx context.Context, categoryID, reason string) error {
	return t.transition(ctx, domain.EventCategorySkipped, categoryID, domain.CategoryCompleted, reason, func(p *domain.AnalysisProgress) {
		p.Set(categoryID, domain.CategoryCompleted)
		p.CurrentCategory = ""
	})
}

func (t *Tracker) RecordCategoryError(ctx context.Context, categoryID, message string) error {
	return t.transition(ctx, domain.EventCategoryFailed, categoryID, domain.CategoryFailed, message, func(p *domain.AnalysisProgress) {
		p.Set(categoryID, domain.CategoryFailed)
		p.CurrentCategory = ""
		p.LastError = fmt.Sprintf("%s: %s", categoryID, message)
	})
}

// RecordRunFinished stores the final snapshot
func (t *Tracker) RecordRunFinished(ctx context.Context) error {
	return t.transition(ctx, domain.EventRunFinished, "", domain.StatusCompleted, "", func(p *domain.AnalysisProgress) {
		p.CurrentCategory = ""
	})
}

// RecordRunError stores an error that ended the run
func (t *Tracker) RecordRunError(ctx context.Context, message string) error {
	return t.transition(ctx, domain.EventRunFailed, "", "", message, func(p *domain.AnalysisProgress) {
		p.CurrentCategory = ""
		p.LastError = message
	})
}

func (t *Tracker) transition(ctx context.Context, evType, categoryID, status, message string, apply func(p *domain.AnalysisProgress)) error {
	t.mu.Lock()
	apply(&t.progress)
	t.progress.UpdatedAt = time.Now().UTC()
	snapshot := t.progress.Clone()
	t.mu.Unlock()

	if err := t.store.SaveProgress(ctx, t.assessmentID, snapshot); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}

	if t.events != nil {
		// best effort: subscribers can always reload the stored snapshot
		_ = t.events.Publish(ctx, domain.ProgressEvent{
			Type:         evType,
			AssessmentID: t.assessmentID,
			CategoryID:   categoryID,
			Status:       status,
			Message:      message,
			Progress:     &snapshot,
			At:           snapshot.UpdatedAt,
		})
	}
	return nil
}

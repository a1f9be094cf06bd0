package analysis

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis/provider"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (r *recordingEvents) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func TestPipeline_LargeUserSetEndToEnd(t *testing.T) {
	users := []map[string]any{{"SamAccountName": "a1", "Enabled": true, "PasswordNeverExpires": true}}
	for i := 1; i < 999; i++ {
		users = append(users, map[string]any{"SamAccountName": fmt.Sprintf("u%d", i), "Enabled": false})
	}

	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{"Users": users})

	ai := &fakeProvider{
		respond: func(prompt string, call int) (string, error) {
			if strings.Contains(prompt, `"SamAccountName":"a1"`) {
				return findingJSON("Password never expires", "a1"), nil
			}
			return "[]", nil
		},
	}

	p := newTestPipeline(t, testAnalysisConfig(), store, ai, testCatalogue(t, "users"))
	summary, err := p.Run(context.Background(), "as-1")
	require.NoError(t, err)

	assert.EqualValues(t, 20, ai.calls.Load())
	assert.LessOrEqual(t, ai.maxSeen.Load(), int32(3))
	assert.Equal(t, []string{"users"}, summary.Completed)
	assert.Equal(t, 1, summary.Findings)

	found := store.findingsFor("as-1")["users"]
	require.Len(t, found, 1)
	assert.Equal(t, 1, found[0].AffectedCount)
	assert.Equal(t, []string{"a1"}, found[0].Evidence.AffectedObjects)

	assert.Equal(t, domain.StatusCompleted, store.status("as-1"))
	a, err := store.GetByID(context.Background(), "as-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryCompleted, a.Progress.Categories["users"])
	assert.Equal(t, 1, a.Progress.Completed)
}

func TestPipeline_ResumeSkipsCompletedCategories(t *testing.T) {
	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{
		"Users":     []any{map[string]any{"SamAccountName": "a1"}},
		"Groups":    []any{map[string]any{"Name": "g1"}},
		"Computers": []any{map[string]any{"Name": "pc1"}},
	})

	progress := domain.NewProgress([]string{"users", "groups", "computers"})
	progress.Set("users", domain.CategoryCompleted)
	progress.Set("computers", domain.CategoryFailed)
	progress.Generation = 1
	store.assessments["as-1"].Progress = progress
	store.findings["as-1"] = map[string][]domain.Finding{"groups": {{Title: "Nested admins"}}}

	ai := &fakeProvider{}
	p := newTestPipeline(t, testAnalysisConfig(), store, ai, testCatalogue(t, "users", "groups", "computers"))

	summary, err := p.Run(context.Background(), "as-1")
	require.NoError(t, err)

	require.EqualValues(t, 1, ai.calls.Load())
	assert.Contains(t, ai.prompts[0], "CATEGORY: Computers")
	assert.ElementsMatch(t, []string{"users", "groups"}, summary.Resumed)
	assert.Equal(t, []string{"computers"}, summary.Completed)
	assert.Len(t, store.findingsFor("as-1")["groups"], 1, "resumed findings are kept")

	// a second run finds nothing left to do
	_, err = p.Run(context.Background(), "as-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, ai.calls.Load())
}

func TestPipeline_ProgressOfReplacedDocumentIsIgnored(t *testing.T) {
	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{"Users": []any{map[string]any{"SamAccountName": "a1"}}})
	store.blobs["as-1"].Generation = 2

	progress := domain.NewProgress([]string{"users"})
	progress.Set("users", domain.CategoryCompleted)
	progress.Generation = 1
	store.assessments["as-1"].Progress = progress

	ai := &fakeProvider{}
	p := newTestPipeline(t, testAnalysisConfig(), store, ai, testCatalogue(t, "users"))
	summary, err := p.Run(context.Background(), "as-1")
	require.NoError(t, err)

	assert.EqualValues(t, 1, ai.calls.Load())
	assert.Empty(t, summary.Resumed)
}

func TestPipeline_CategoryFailureDoesNotStopRun(t *testing.T) {
	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{
		"Users":  []any{map[string]any{"SamAccountName": "a1"}},
		"Groups": []any{map[string]any{"Name": "g1"}},
	})

	ai := &fakeProvider{
		respond: func(prompt string, call int) (string, error) {
			if strings.Contains(prompt, "CATEGORY: Users") {
				return "", &provider.StatusError{Provider: "fake", StatusCode: http.StatusForbidden}
			}
			return findingJSON("Empty privileged group", "g1"), nil
		},
	}

	p := newTestPipeline(t, testAnalysisConfig(), store, ai, testCatalogue(t, "users", "groups"))
	summary, err := p.Run(context.Background(), "as-1")
	require.NoError(t, err)

	assert.EqualValues(t, 2, ai.calls.Load(), "403 is not retried")
	assert.Equal(t, []string{"users"}, summary.Failed)
	assert.Equal(t, []string{"groups"}, summary.Completed)
	assert.Equal(t, domain.StatusCompleted, store.status("as-1"))

	a, _ := store.GetByID(context.Background(), "as-1")
	assert.Equal(t, domain.CategoryFailed, a.Progress.Categories["users"])
	assert.Equal(t, domain.CategoryCompleted, a.Progress.Categories["groups"])
	assert.Contains(t, a.Progress.LastError, "users")
	assert.Contains(t, a.Progress.LastError, "HTTP 403")

	var failedLog bool
	for _, l := range store.logs {
		if l.CategoryID == "users" && l.Level == domain.LogError {
			failedLog = true
		}
	}
	assert.True(t, failedLog)
}

func TestPipeline_EmptyCategoriesAreSkipped(t *testing.T) {
	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{
		"Users":  []any{},
		"Groups": map[string]any{"Data": nil},
	})

	ai := &fakeProvider{}
	p := newTestPipeline(t, testAnalysisConfig(), store, ai, testCatalogue(t, "users", "groups", "gpos"))
	summary, err := p.Run(context.Background(), "as-1")
	require.NoError(t, err)

	assert.Zero(t, ai.calls.Load())
	assert.Equal(t, []string{"users", "groups", "gpos"}, summary.Skipped)
	assert.Empty(t, store.findingsFor("as-1"))
	assert.Equal(t, domain.StatusCompleted, store.status("as-1"))

	a, _ := store.GetByID(context.Background(), "as-1")
	assert.Equal(t, 3, a.Progress.Completed)
}

func TestPipeline_StopsWhenDocumentReplaced(t *testing.T) {
	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{
		"Users":  []any{map[string]any{"SamAccountName": "a1"}},
		"Groups": []any{map[string]any{"Name": "g1"}},
	})
	store.bumpGenerationOn = "users"

	ai := &fakeProvider{respond: func(prompt string, call int) (string, error) {
		return findingJSON("Stale account", "a1"), nil
	}}

	p := newTestPipeline(t, testAnalysisConfig(), store, ai, testCatalogue(t, "users", "groups"))
	_, err := p.Run(context.Background(), "as-1")
	require.ErrorIs(t, err, domain.ErrDocumentReplaced)

	assert.EqualValues(t, 1, ai.calls.Load())
	assert.Empty(t, store.findingsFor("as-1"), "findings of the old document are not written")
	assert.Equal(t, domain.StatusUploaded, store.status("as-1"))
}

func TestPipeline_ReplacementDuringWriteKeepsOldFindingsOut(t *testing.T) {
	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{
		"Users":  []any{map[string]any{"SamAccountName": "a1"}},
		"Groups": []any{map[string]any{"Name": "g1"}},
	})
	store.replaceBeforeWrite = "users"

	ai := &fakeProvider{respond: func(prompt string, call int) (string, error) {
		return findingJSON("Stale account", "a1"), nil
	}}

	p := newTestPipeline(t, testAnalysisConfig(), store, ai, testCatalogue(t, "users", "groups"))
	_, err := p.Run(context.Background(), "as-1")
	require.ErrorIs(t, err, domain.ErrDocumentReplaced)

	assert.Empty(t, store.findingsFor("as-1"))
	assert.Equal(t, domain.StatusUploaded, store.status("as-1"))

	done, err := store.CategoriesWithFindings(context.Background(), "as-1")
	require.NoError(t, err)
	assert.Empty(t, done, "no category is resumed as completed from the old document")
}

func TestPipeline_ProviderUnavailableFailsRun(t *testing.T) {
	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{"Users": []any{map[string]any{"SamAccountName": "a1"}}})

	p, err := NewPipeline(testAnalysisConfig(), Deps{
		Assessments: store,
		Documents:   store,
		Findings:    store,
		Logs:        store,
		Providers:   staticProviders{err: provider.ErrMissingAPIKey},
		Catalogue:   testCatalogue(t, "users"),
		Sleep:       noSleep,
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "as-1")
	require.ErrorIs(t, err, provider.ErrMissingAPIKey)
	assert.Equal(t, domain.StatusFailed, store.status("as-1"))

	a, _ := store.GetByID(context.Background(), "as-1")
	assert.Contains(t, a.Progress.LastError, "api key")
}

func TestPipeline_CancelledRunStaysAnalyzing(t *testing.T) {
	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{
		"Users":  []any{map[string]any{"SamAccountName": "a1"}},
		"Groups": []any{map[string]any{"Name": "g1"}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ai := &fakeProvider{respond: func(prompt string, call int) (string, error) {
		cancel()
		return "", context.Canceled
	}}

	p := newTestPipeline(t, testAnalysisConfig(), store, ai, testCatalogue(t, "users", "groups"))
	_, err := p.Run(ctx, "as-1")
	require.ErrorIs(t, err, context.Canceled)

	assert.EqualValues(t, 1, ai.calls.Load())
	assert.Equal(t, domain.StatusAnalyzing, store.status("as-1"))
	a, _ := store.GetByID(context.Background(), "as-1")
	assert.NotEqual(t, domain.CategoryFailed, a.Progress.Categories["users"])
}

func TestPipeline_PublishesProgressEvents(t *testing.T) {
	store := newMemStore()
	store.addAssessment(t, "as-1", map[string]any{"Users": []any{map[string]any{"SamAccountName": "a1"}}})
	events := &recordingEvents{}

	p, err := NewPipeline(testAnalysisConfig(), Deps{
		Assessments: store,
		Documents:   store,
		Findings:    store,
		Logs:        store,
		Providers:   staticProviders{p: &fakeProvider{}},
		Events:      events,
		Catalogue:   testCatalogue(t, "users", "groups"),
		Sleep:       noSleep,
	})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "as-1")
	require.NoError(t, err)

	assert.Equal(t, []string{
		domain.EventRunStarted,
		domain.EventCategoryStarted,
		domain.EventCategoryDone,
		domain.EventCategorySkipped,
		domain.EventRunFinished,
	}, events.types())
	assert.Len(t, store.progress, 5, "every event has a stored snapshot")
}

func TestPipeline_UnknownAssessment(t *testing.T) {
	p := newTestPipeline(t, testAnalysisConfig(), newMemStore(), &fakeProvider{}, testCatalogue(t, "users"))
	_, err := p.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAssessmentNotFound)
}

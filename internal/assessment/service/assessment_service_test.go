package service

import (
	"context"
	"testing"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssessmentService(repo *fakeRepo, events EventPublisher, runs ActivityChecker) *AssessmentService {
	return NewAssessmentService(repo, fakeFindings{repo}, fakeLogs{repo}, repo, events, runs, []string{"users", "groups"})
}

func TestAssessmentService_Create(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestAssessmentService(repo, nil, nil)

	a, err := svc.Create(context.Background(), &domain.CreateAssessmentRequest{Domain: "  corp.local "})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "corp.local", a.Domain)
	assert.Equal(t, domain.StatusPending, a.Status)
	assert.Equal(t, map[string]string{"users": domain.CategoryPending, "groups": domain.CategoryPending}, a.Progress.Categories)
}

func TestAssessmentService_Reset(t *testing.T) {
	ctx := context.Background()

	t.Run("with document returns to uploaded", func(t *testing.T) {
		repo := newFakeRepo()
		events := &capturedEvents{}
		svc := newTestAssessmentService(repo, events, activeSet{})

		require.NoError(t, repo.EnsureExists(ctx, "as-1", ""))
		_, err := repo.Upsert(ctx, "as-1", []byte("x"), 1)
		require.NoError(t, err)
		repo.assessments["as-1"].Status = domain.StatusCompleted
		repo.findings["as-1"] = []domain.Finding{{Title: "t"}}

		a, err := svc.Reset(ctx, "as-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUploaded, a.Status)
		assert.Zero(t, a.Progress.Completed)
		assert.Empty(t, repo.findings["as-1"])
		assert.Equal(t, domain.EventAssessmentReset, events.last().Type)
	})

	t.Run("without document returns to pending", func(t *testing.T) {
		repo := newFakeRepo()
		svc := newTestAssessmentService(repo, nil, nil)
		require.NoError(t, repo.EnsureExists(ctx, "as-1", ""))

		a, err := svc.Reset(ctx, "as-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, a.Status)
	})

	t.Run("refused while running", func(t *testing.T) {
		repo := newFakeRepo()
		svc := newTestAssessmentService(repo, nil, activeSet{"as-1": true})
		require.NoError(t, repo.EnsureExists(ctx, "as-1", ""))

		_, err := svc.Reset(ctx, "as-1")
		assert.ErrorIs(t, err, domain.ErrAnalysisRunning)
		assert.Zero(t, repo.resets)
	})

	t.Run("unknown assessment", func(t *testing.T) {
		svc := newTestAssessmentService(newFakeRepo(), nil, nil)
		_, err := svc.Reset(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrAssessmentNotFound)
	})
}

func TestAssessmentService_Delete(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	require.NoError(t, repo.EnsureExists(ctx, "as-1", ""))
	require.NoError(t, repo.EnsureExists(ctx, "as-2", ""))

	svc := newTestAssessmentService(repo, nil, activeSet{"as-2": true})
	require.NoError(t, svc.Delete(ctx, "as-1"))
	assert.ErrorIs(t, svc.Delete(ctx, "as-2"), domain.ErrAnalysisRunning)
	assert.ErrorIs(t, svc.Delete(ctx, "as-1"), domain.ErrAssessmentNotFound)
}

func TestAssessmentService_FindingsRequireAssessment(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestAssessmentService(repo, nil, nil)

	_, err := svc.Findings(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAssessmentNotFound)

	require.NoError(t, repo.EnsureExists(ctx, "as-1", ""))
	repo.findings["as-1"] = []domain.Finding{{Title: "t"}}
	found, err := svc.Findings(ctx, "as-1")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = svc.Logs(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAssessmentNotFound)
}

func TestAssessmentService_Stale(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	require.NoError(t, repo.EnsureExists(ctx, "as-1", ""))
	require.NoError(t, repo.EnsureExists(ctx, "as-2", ""))
	repo.assessments["as-2"].Status = domain.StatusAnalyzing

	stale, err := newTestAssessmentService(repo, nil, nil).Stale(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "as-2", stale[0].ID)
}

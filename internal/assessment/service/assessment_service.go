package service

import (
	"context"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/logging"
)

// AssessmentRepository is the assessment table as the services use it
type AssessmentRepository interface {
	Create(ctx context.Context, a *domain.Assessment) error
	EnsureExists(ctx context.Context, id, domainName string) error
	GetByID(ctx context.Context, id string) (*domain.Assessment, error)
	List(ctx context.Context) ([]domain.Assessment, error)
	ListByStatus(ctx context.Context, status string) ([]domain.Assessment, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Reset(ctx context.Context, id, status string, progress domain.AnalysisProgress) error
	Delete(ctx context.Context, id string) error
}

type FindingReader interface {
	ListByAssessment(ctx context.Context, assessmentID string) ([]domain.Finding, error)
}

type LogReader interface {
	ListByAssessment(ctx context.Context, assessmentID string) ([]domain.AssessmentLog, error)
}

// DocumentRepository stores the compressed upload of each assessment
type DocumentRepository interface {
	Upsert(ctx context.Context, assessmentID string, compressed []byte, rawSize int64) (int64, error)
	Get(ctx context.Context, assessmentID string) (*domain.DocumentBlob, error)
	Exists(ctx context.Context, assessmentID string) (bool, error)
}

// EventPublisher receives assessment-level events; may be nil
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.ProgressEvent) error
}

// ActivityChecker reports whether an analysis is running for an assessment
type ActivityChecker interface {
	Active(assessmentID string) bool
}

// AssessmentService handles business logic for assessments
type AssessmentService struct {
	assessments AssessmentRepository
	findings    FindingReader
	logs        LogReader
	documents   DocumentRepository
	events      EventPublisher
	runs        ActivityChecker
	categoryIDs []string
}

// NewAssessmentService creates a new AssessmentService. categoryIDs seeds the
// progress of new and reset assessments.
func NewAssessmentService(assessments AssessmentRepository, findings FindingReader, logs LogReader, documents DocumentRepository, events EventPublisher, runs ActivityChecker, categoryIDs []string) *AssessmentService {
	return &AssessmentService{
		assessments: assessments,
		findings:    findings,
		logs:        logs,
		documents:   documents,
		events:      events,
		runs:        runs,
		categoryIDs: categoryIDs,
	}
}

// Create creates a pending assessment
func (s *AssessmentService) Create(ctx context.Context, req *domain.CreateAssessmentRequest) (*domain.Assessment, error) {
	a := &domain.Assessment{
		Domain:   strings.TrimSpace(req.Domain),
		Status:   domain.StatusPending,
		Progress: domain.NewProgress(s.categoryIDs),
	}
	if err := s.assessments.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AssessmentService) Get(ctx context.Context, id string) (*domain.Assessment, error) {
	return s.assessments.GetByID(ctx, id)
}

func (s *AssessmentService) List(ctx context.Context) ([]domain.Assessment, error) {
	return s.assessments.List(ctx)
}

// Delete removes an assessment with its document, findings and logs
func (s *AssessmentService) Delete(ctx context.Context, id string) error {
	if s.runs != nil && s.runs.Active(id) {
		return domain.ErrAnalysisRunning
	}
	return s.assessments.Delete(ctx, id)
}

// Reset deletes every finding and puts all categories back to pending. The
// assessment returns to uploaded when it has a document, pending otherwise.
func (s *AssessmentService) Reset(ctx context.Context, id string) (*domain.Assessment, error) {
	if s.runs != nil && s.runs.Active(id) {
		return nil, domain.ErrAnalysisRunning
	}
	if _, err := s.assessments.GetByID(ctx, id); err != nil {
		return nil, err
	}

	status := domain.StatusPending
	hasDocument, err := s.documents.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if hasDocument {
		status = domain.StatusUploaded
	}

	progress := domain.NewProgress(s.categoryIDs)
	if err := s.assessments.Reset(ctx, id, status, progress); err != nil {
		return nil, err
	}
	logging.NewLogger(ctx).LogInfof("assessment.reset", "assessment %s reset to %s", id, status)

	if s.events != nil {
		_ = s.events.Publish(ctx, domain.ProgressEvent{
			Type:         domain.EventAssessmentReset,
			AssessmentID: id,
			Status:       status,
			Progress:     &progress,
			At:           time.Now().UTC(),
		})
	}
	return s.assessments.GetByID(ctx, id)
}

// Findings returns findings ordered by severity, then creation time
func (s *AssessmentService) Findings(ctx context.Context, id string) ([]domain.Finding, error) {
	if _, err := s.assessments.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.findings.ListByAssessment(ctx, id)
}

// Logs returns the assessment log in chronological order
func (s *AssessmentService) Logs(ctx context.Context, id string) ([]domain.AssessmentLog, error) {
	if _, err := s.assessments.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.logs.ListByAssessment(ctx, id)
}

// Document returns the stored, still compressed, upload
func (s *AssessmentService) Document(ctx context.Context, id string) (*domain.DocumentBlob, error) {
	return s.documents.Get(ctx, id)
}

// Stale lists assessments left analyzing, typically by a crashed process
func (s *AssessmentService) Stale(ctx context.Context) ([]domain.Assessment, error) {
	return s.assessments.ListByStatus(ctx, domain.StatusAnalyzing)
}

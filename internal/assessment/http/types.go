package http

import (
	"context"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/service"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/events"
)

// Assessments is the part of service.AssessmentService the handlers use
type Assessments interface {
	Create(ctx context.Context, req *domain.CreateAssessmentRequest) (*domain.Assessment, error)
	Get(ctx context.Context, id string) (*domain.Assessment, error)
	List(ctx context.Context) ([]domain.Assessment, error)
	Delete(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) (*domain.Assessment, error)
	Findings(ctx context.Context, id string) ([]domain.Finding, error)
	Logs(ctx context.Context, id string) ([]domain.AssessmentLog, error)
	Document(ctx context.Context, id string) (*domain.DocumentBlob, error)
}

type Uploader interface {
	Upload(ctx context.Context, req service.UploadRequest) (*service.UploadResult, error)
}

type Runs interface {
	Start(ctx context.Context, assessmentID string) error
	Active(assessmentID string) bool
}

type AIConfig interface {
	View(ctx context.Context) (*service.AIConfigView, error)
	Update(ctx context.Context, req service.AIConfigUpdate) error
}

// Handler handles HTTP requests for assessments
type Handler struct {
	assessments Assessments
	uploads     Uploader
	runs        Runs
	aiConfig    AIConfig
	events      events.Bus
}

// New creates a new Handler. bus may be nil, the events stream then only
// reports stored progress.
func New(assessments Assessments, uploads Uploader, runs Runs, aiConfig AIConfig, bus events.Bus) *Handler {
	return &Handler{
		assessments: assessments,
		uploads:     uploads,
		runs:        runs,
		aiConfig:    aiConfig,
		events:      bus,
	}
}

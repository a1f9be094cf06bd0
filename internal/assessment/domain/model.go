package domain

import (
	"strings"
	"time"
)

// Assessment is one analysed Active Directory domain
type Assessment struct {
	ID          string           `json:"id"`
	Domain      string           `json:"domain"`
	Status      string           `json:"status"` // pending, uploaded, analyzing, completed, failed
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Progress    AnalysisProgress `json:"analysis_progress"`
}

// Assessment status constants
const (
	StatusPending   = "pending"
	StatusUploaded  = "uploaded"
	StatusAnalyzing = "analyzing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Category status constants used inside AnalysisProgress
const (
	CategoryPending    = "pending"
	CategoryProcessing = "processing"
	CategoryCompleted  = "completed"
	CategoryFailed     = "failed"
)

// AnalysisProgress is persisted as JSONB on the assessment row after every
// category transition. Generation is the document generation it describes.
type AnalysisProgress struct {
	Generation      int64             `json:"generation,omitempty"`
	Categories      map[string]string `json:"categories"`
	CurrentCategory string            `json:"current_category,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	Completed       int               `json:"completed"`
	Total           int               `json:"total"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewProgress returns a progress snapshot with every category pending.
func NewProgress(categoryIDs []string) AnalysisProgress {
	p := AnalysisProgress{
		Categories: make(map[string]string, len(categoryIDs)),
		Total:      len(categoryIDs),
		UpdatedAt:  time.Now().UTC(),
	}
	for _, id := range categoryIDs {
		p.Categories[id] = CategoryPending
	}
	return p
}

// Clone returns a deep copy so snapshots handed to publishers never alias the
// tracker's state.
func (p AnalysisProgress) Clone() AnalysisProgress {
	out := p
	out.Categories = make(map[string]string, len(p.Categories))
	for k, v := range p.Categories {
		out.Categories[k] = v
	}
	return out
}

// Set updates one category status. A completed category never moves back.
func (p *AnalysisProgress) Set(categoryID, status string) {
	if p.Categories == nil {
		p.Categories = make(map[string]string)
	}
	if p.Categories[categoryID] == CategoryCompleted {
		return
	}
	p.Categories[categoryID] = status
	p.Completed = 0
	for _, s := range p.Categories {
		if s == CategoryCompleted {
			p.Completed++
		}
	}
	if p.Total < len(p.Categories) {
		p.Total = len(p.Categories)
	}
	p.UpdatedAt = time.Now().UTC()
}

// CompletedIDs lists categories marked completed.
func (p AnalysisProgress) CompletedIDs() []string {
	var ids []string
	for id, s := range p.Categories {
		if s == CategoryCompleted {
			ids = append(ids, id)
		}
	}
	return ids
}

// Severity levels, ordered from most to least severe
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// SeverityRank orders findings critical→high→medium→low→other.
func SeverityRank(s string) int {
	switch strings.ToLower(s) {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// NormalizeSeverity lowercases a severity and maps unknown values to low.
func NormalizeSeverity(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return s
	case "info", "informational":
		return SeverityLow
	default:
		return SeverityLow
	}
}

// Evidence identifies the directory objects a finding is based on
type Evidence struct {
	AffectedObjects []string `json:"affected_objects"`
	Count           int      `json:"count"`
	Details         string   `json:"details,omitempty"`
}

// Finding is one reported security issue
type Finding struct {
	ID                   string    `json:"id"`
	AssessmentID         string    `json:"assessment_id"`
	CategoryID           string    `json:"category_id"`
	TypeID               string    `json:"type_id,omitempty"`
	Title                string    `json:"title"`
	Severity             string    `json:"severity"`
	Description          string    `json:"description"`
	Recommendation       string    `json:"recommendation"`
	Evidence             Evidence  `json:"evidence"`
	MitreAttack          string    `json:"mitre_attack,omitempty"`
	CISControl           string    `json:"cis_control,omitempty"`
	ImpactBusiness       string    `json:"impact_business,omitempty"`
	RemediationCommands  string    `json:"remediation_commands,omitempty"`
	Prerequisites        string    `json:"prerequisites,omitempty"`
	OperationalImpact    string    `json:"operational_impact,omitempty"`
	MicrosoftDocs        string    `json:"microsoft_docs,omitempty"`
	CurrentVsRecommended string    `json:"current_vs_recommended,omitempty"`
	Timeline             string    `json:"timeline,omitempty"`
	AffectedCount        int       `json:"affected_count"`
	CreatedAt            time.Time `json:"created_at"`
}

// AssessmentLog is a timestamped, category-tagged message shown in the UI
type AssessmentLog struct {
	ID           string    `json:"id"`
	AssessmentID string    `json:"assessment_id"`
	Level        string    `json:"level"`
	CategoryID   string    `json:"category_id,omitempty"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// Log levels
const (
	LogInfo  = "info"
	LogWarn  = "warn"
	LogError = "error"
)

// DocumentBlob is the compressed uploaded document plus its upload generation
type DocumentBlob struct {
	AssessmentID string    `json:"assessment_id"`
	Compressed   []byte    `json:"-"`
	Generation   int64     `json:"generation"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Progress event types
const (
	EventRunStarted       = "run_started"
	EventCategoryStarted  = "category_started"
	EventCategoryDone     = "category_completed"
	EventCategoryFailed   = "category_failed"
	EventCategorySkipped  = "category_skipped"
	EventRunFinished      = "run_finished"
	EventRunFailed        = "run_failed"
	EventAssessmentReset  = "assessment_reset"
	EventDocumentUploaded = "document_uploaded"
)

// ProgressEvent is published on every progress transition
type ProgressEvent struct {
	Type         string            `json:"type"`
	AssessmentID string            `json:"assessment_id"`
	CategoryID   string            `json:"category_id,omitempty"`
	Status       string            `json:"status,omitempty"`
	Message      string            `json:"message,omitempty"`
	Progress     *AnalysisProgress `json:"progress,omitempty"`
	At           time.Time         `json:"at"`
}

// CreateAssessmentRequest represents data needed to create a new assessment
type CreateAssessmentRequest struct {
	Domain string
}

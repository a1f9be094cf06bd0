package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/logging"
	"github.com/google/uuid"
)

// MaxUploadBytes bounds both the uploaded file and the decompressed JSON
const MaxUploadBytes = 512 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Archiver keeps a copy of accepted uploads; may be nil
type Archiver interface {
	Store(ctx context.Context, assessmentID string, generation int64, compressed []byte) (string, error)
}

// RunStarter starts a background analysis
type RunStarter interface {
	Start(ctx context.Context, assessmentID string) error
}

// UploadRequest is one uploaded document. Filename decides between JSON and
// ZIP; ZIP content is also detected by its signature.
type UploadRequest struct {
	AssessmentID string
	DomainName   string
	Filename     string
	Data         []byte
}

// UploadResult describes a stored upload
type UploadResult struct {
	AssessmentID    string `json:"assessmentId"`
	Generation      int64  `json:"generation"`
	SizeBytes       int64  `json:"sizeBytes"`
	AnalysisStarted bool   `json:"analysisStarted"`
	Message         string `json:"message"`
}

// UploadService validates, compresses and stores assessment documents
type UploadService struct {
	assessments AssessmentRepository
	documents   DocumentRepository
	archive     Archiver
	events      EventPublisher
	runs        RunStarter
	autoAnalyze bool
	categoryIDs []string
}

// NewUploadService creates a new UploadService. runs may be nil when uploads
// never start analysis.
func NewUploadService(assessments AssessmentRepository, documents DocumentRepository, archive Archiver, events EventPublisher, runs RunStarter, autoAnalyze bool, categoryIDs []string) *UploadService {
	return &UploadService{
		assessments: assessments,
		documents:   documents,
		archive:     archive,
		events:      events,
		runs:        runs,
		autoAnalyze: autoAnalyze,
		categoryIDs: categoryIDs,
	}
}

// Upload stores a new document generation for the assessment. Findings and
// progress from an earlier document are cleared.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	logger := logging.NewLogger(ctx)

	raw, err := DecodeUpload(req.Filename, req.Data)
	if err != nil {
		return nil, err
	}
	doc, err := analysis.ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidUpload, err)
	}

	id := strings.TrimSpace(req.AssessmentID)
	if id == "" {
		id = uuid.New().String()
	}
	domainName := strings.TrimSpace(req.DomainName)
	if domainName == "" {
		domainName = detectDomainName(doc)
	}

	compressed, err := analysis.Compress(raw)
	if err != nil {
		return nil, err
	}

	if err := s.assessments.EnsureExists(ctx, id, domainName); err != nil {
		return nil, err
	}
	generation, err := s.documents.Upsert(ctx, id, compressed, int64(len(raw)))
	if err != nil {
		return nil, err
	}
	progress := domain.NewProgress(s.categoryIDs)
	progress.Generation = generation
	if err := s.assessments.Reset(ctx, id, domain.StatusUploaded, progress); err != nil {
		return nil, err
	}
	logger.LogInfof("assessment.upload", "stored document for %s: generation=%d raw=%d compressed=%d", id, generation, len(raw), len(compressed))

	if s.archive != nil {
		if key, err := s.archive.Store(ctx, id, generation, compressed); err != nil {
			logger.LogWarnf("assessment.upload", "archive upload for %s failed: %v", id, err)
		} else {
			logger.LogInfof("assessment.upload", "archived upload for %s as %s", id, key)
		}
	}

	if s.events != nil {
		_ = s.events.Publish(ctx, domain.ProgressEvent{
			Type:         domain.EventDocumentUploaded,
			AssessmentID: id,
			Status:       domain.StatusUploaded,
			Message:      fmt.Sprintf("generation %d", generation),
			At:           time.Now().UTC(),
		})
	}

	res := &UploadResult{
		AssessmentID: id,
		Generation:   generation,
		SizeBytes:    int64(len(raw)),
		Message:      "Assessment data uploaded successfully",
	}

	if s.autoAnalyze && s.runs != nil {
		err := s.runs.Start(ctx, id)
		switch {
		case err == nil:
			res.AnalysisStarted = true
			res.Message = "Assessment data uploaded, analysis started"
		case errors.Is(err, domain.ErrAnalysisRunning):
			res.Message = "Assessment data uploaded, running analysis will restart on the new document"
		default:
			logger.LogWarnf("assessment.upload", "auto analysis for %s not started: %v", id, err)
		}
	}
	return res, nil
}

// DecodeUpload returns the JSON document carried by a .json or .zip upload,
// with any UTF-8 byte order mark removed.
func DecodeUpload(filename string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidUpload)
	}

	ext := strings.ToLower(path.Ext(filename))
	isZip := ext == ".zip" || bytes.HasPrefix(data, []byte("PK\x03\x04"))

	switch {
	case isZip:
		raw, err := jsonFromZip(data)
		if err != nil {
			return nil, err
		}
		data = raw
	case ext == "" || ext == ".json":
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q, expected .json or .zip", domain.ErrInvalidUpload, ext)
	}

	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty document", domain.ErrInvalidUpload)
	}
	return data, nil
}

func jsonFromZip(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable zip: %v", domain.ErrInvalidUpload, err)
	}

	var entries []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ".json") {
			entries = append(entries, f)
		}
	}
	if len(entries) != 1 {
		return nil, fmt.Errorf("%w: zip must contain exactly one .json file, found %d", domain.ErrInvalidUpload, len(entries))
	}

	rc, err := entries[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrInvalidUpload, entries[0].Name, err)
	}
	defer rc.Close()

	out, err := io.ReadAll(io.LimitReader(rc, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidUpload, entries[0].Name, err)
	}
	if len(out) > MaxUploadBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrInvalidUpload, entries[0].Name, MaxUploadBytes)
	}
	return out, nil
}

// detectDomainName reads the DNS name from the domain section of a document
func detectDomainName(doc analysis.Document) string {
	for _, key := range []string{"Domain", "DomainInfo"} {
		records, err := analysis.Extract(doc, key)
		if err != nil || len(records) == 0 {
			continue
		}
		for _, field := range []string{"DNSRoot", "DnsRoot", "DomainName", "Name"} {
			if s, ok := records[0][field].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

package service

import (
	"context"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/google/uuid"
)

type fakeRepo struct {
	mu          sync.Mutex
	assessments map[string]*domain.Assessment
	documents   map[string]*domain.DocumentBlob
	findings    map[string][]domain.Finding
	logs        map[string][]domain.AssessmentLog
	config      map[string]string
	resets      int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		assessments: map[string]*domain.Assessment{},
		documents:   map[string]*domain.DocumentBlob{},
		findings:    map[string][]domain.Finding{},
		logs:        map[string][]domain.AssessmentLog{},
		config:      map[string]string{},
	}
}

func (r *fakeRepo) Create(ctx context.Context, a *domain.Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	r.assessments[a.ID] = &cp
	return nil
}

func (r *fakeRepo) EnsureExists(ctx context.Context, id, domainName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assessments[id]; ok {
		if a.Domain == "" {
			a.Domain = domainName
		}
		return nil
	}
	r.assessments[id] = &domain.Assessment{ID: id, Domain: domainName, Status: domain.StatusPending}
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*domain.Assessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assessments[id]
	if !ok {
		return nil, domain.ErrAssessmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) List(ctx context.Context) ([]domain.Assessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Assessment
	for _, a := range r.assessments {
		out = append(out, *a)
	}
	return out, nil
}

func (r *fakeRepo) ListByStatus(ctx context.Context, status string) ([]domain.Assessment, error) {
	all, _ := r.List(ctx)
	var out []domain.Assessment
	for _, a := range all {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assessments[id]
	if !ok {
		return domain.ErrAssessmentNotFound
	}
	a.Status = status
	return nil
}

func (r *fakeRepo) Reset(ctx context.Context, id, status string, progress domain.AnalysisProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assessments[id]
	if !ok {
		return domain.ErrAssessmentNotFound
	}
	r.resets++
	delete(r.findings, id)
	a.Status = status
	a.Progress = progress
	a.CompletedAt = nil
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assessments[id]; !ok {
		return domain.ErrAssessmentNotFound
	}
	delete(r.assessments, id)
	delete(r.documents, id)
	delete(r.findings, id)
	delete(r.logs, id)
	return nil
}

func (r *fakeRepo) Upsert(ctx context.Context, assessmentID string, compressed []byte, rawSize int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.documents[assessmentID]
	if !ok {
		blob = &domain.DocumentBlob{AssessmentID: assessmentID}
		r.documents[assessmentID] = blob
	}
	blob.Generation++
	blob.Compressed = compressed
	blob.SizeBytes = rawSize
	blob.UploadedAt = time.Now().UTC()
	return blob.Generation, nil
}

func (r *fakeRepo) Get(ctx context.Context, assessmentID string) (*domain.DocumentBlob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.documents[assessmentID]
	if !ok {
		return nil, domain.ErrNoDocument
	}
	cp := *blob
	return &cp, nil
}

func (r *fakeRepo) Exists(ctx context.Context, assessmentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.documents[assessmentID]
	return ok, nil
}

func (r *fakeRepo) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := r.config[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (r *fakeRepo) SetMany(ctx context.Context, values map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range values {
		r.config[k] = v
	}
	return nil
}

type fakeFindings struct{ repo *fakeRepo }

func (f fakeFindings) ListByAssessment(ctx context.Context, id string) ([]domain.Finding, error) {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	return f.repo.findings[id], nil
}

type fakeLogs struct{ repo *fakeRepo }

func (f fakeLogs) ListByAssessment(ctx context.Context, id string) ([]domain.AssessmentLog, error) {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	return f.repo.logs[id], nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (c *capturedEvents) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *capturedEvents) last() domain.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

type activeSet map[string]bool

func (a activeSet) Active(id string) bool { return a[id] }

type fakeStarter struct {
	err     error
	started []string
}

func (f *fakeStarter) Start(ctx context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.started = append(f.started, id)
	return nil
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) Store(ctx context.Context, id string, generation int64, compressed []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key := id + ".json.gz"
	f.keys = append(f.keys, key)
	return key, nil
}

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/config"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis/provider"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/stretchr/testify/require"
)

// fakeProvider answers prompts through respond and tracks concurrency
type fakeProvider struct {
	respond func(prompt string, call int) (string, error)

	calls    atomic.Int32
	inflight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration

	mu      sync.Mutex
	prompts []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	call := int(f.calls.Add(1))

	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.respond == nil {
		return "[]", nil
	}
	return f.respond(prompt, call)
}

type staticProviders struct {
	p   provider.AIProvider
	err error
}

func (s staticProviders) Provider(ctx context.Context) (provider.AIProvider, error) {
	return s.p, s.err
}

// memStore is an in-memory implementation of every pipeline store
type memStore struct {
	mu          sync.Mutex
	assessments map[string]*domain.Assessment
	blobs       map[string]*domain.DocumentBlob
	findings    map[string]map[string][]domain.Finding
	logs        []domain.AssessmentLog
	progress    []domain.AnalysisProgress
	writeErr    map[string]error

	// bumpGenerationOn simulates a re-upload while the named category runs
	bumpGenerationOn string
	// replaceBeforeWrite simulates a re-upload landing between the last
	// generation check and the findings insert of the named category
	replaceBeforeWrite string
}

func newMemStore() *memStore {
	return &memStore{
		assessments: map[string]*domain.Assessment{},
		blobs:       map[string]*domain.DocumentBlob{},
		findings:    map[string]map[string][]domain.Finding{},
		writeErr:    map[string]error{},
	}
}

func (m *memStore) addAssessment(t *testing.T, id string, doc any) {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	compressed, err := Compress(raw)
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.assessments[id] = &domain.Assessment{ID: id, Domain: "corp.local", Status: domain.StatusUploaded}
	m.blobs[id] = &domain.DocumentBlob{AssessmentID: id, Compressed: compressed, Generation: 1}
}

func (m *memStore) GetByID(ctx context.Context, id string) (*domain.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return nil, domain.ErrAssessmentNotFound
	}
	cp := *a
	cp.Progress = a.Progress.Clone()
	return &cp, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return domain.ErrAssessmentNotFound
	}
	a.Status = status
	return nil
}

func (m *memStore) SaveProgress(ctx context.Context, id string, p domain.AnalysisProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return domain.ErrAssessmentNotFound
	}
	a.Progress = p.Clone()
	m.progress = append(m.progress, p.Clone())
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*domain.DocumentBlob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[id]
	if !ok {
		return nil, domain.ErrNoDocument
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) Generation(ctx context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[id]
	if !ok {
		return 0, domain.ErrNoDocument
	}
	return b.Generation, nil
}

func (m *memStore) Write(ctx context.Context, assessmentID, categoryID string, generation int64, findings []domain.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr[categoryID]; err != nil {
		return err
	}
	if len(findings) == 0 {
		return nil
	}
	b := m.blobs[assessmentID]
	if m.replaceBeforeWrite == categoryID && b != nil {
		b.Generation++
	}
	if b == nil || b.Generation != generation {
		return domain.ErrDocumentReplaced
	}
	if m.findings[assessmentID] == nil {
		m.findings[assessmentID] = map[string][]domain.Finding{}
	}
	for i := range findings {
		findings[i].AssessmentID = assessmentID
		findings[i].CategoryID = categoryID
	}
	m.findings[assessmentID][categoryID] = append(m.findings[assessmentID][categoryID], findings...)
	return nil
}

func (m *memStore) CategoriesWithFindings(ctx context.Context, assessmentID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, f := range m.findings[assessmentID] {
		if len(f) > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) Append(ctx context.Context, entry *domain.AssessmentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.CreatedAt = time.Now()
	m.logs = append(m.logs, *entry)
	if m.bumpGenerationOn != "" && entry.CategoryID == m.bumpGenerationOn && strings.HasPrefix(entry.Message, "analysing") {
		for _, b := range m.blobs {
			b.Generation++
		}
	}
	return nil
}

func (m *memStore) findingsFor(assessmentID string) map[string][]domain.Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]domain.Finding{}
	for k, v := range m.findings[assessmentID] {
		out[k] = append([]domain.Finding(nil), v...)
	}
	return out
}

func (m *memStore) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assessments[id].Status
}

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		ChunkSize:         50,
		ChunkThreshold:    100,
		MaxParallelChunks: 3,
		MaxRetries:        3,
		BaseDelay:         10 * time.Millisecond,
		PriorityCap:       4500,
		NormalCap:         500,
		MaxPayloadBytes:   60000,
		ExcerptChars:      8000,
	}
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestPipeline(t *testing.T, cfg config.AnalysisConfig, store *memStore, ai provider.AIProvider, catalogue *Catalogue) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, Deps{
		Assessments: store,
		Documents:   store,
		Findings:    store,
		Logs:        store,
		Providers:   staticProviders{p: ai},
		Catalogue:   catalogue,
		Sleep:       noSleep,
	})
	require.NoError(t, err)
	return p
}

func testCatalogue(t *testing.T, ids ...string) *Catalogue {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("preamble = \"Report only concrete evidence.\"\n")
	for _, id := range ids {
		kind := KindGeneric
		if id == "users" {
			kind = KindUsers
		}
		if id == "gpos" {
			kind = KindGPOs
		}
		name := strings.ToUpper(id[:1]) + id[1:]
		fmt.Fprintf(&sb, "[[category]]\nid = %q\nname = %q\nkeys = [%q]\nkind = %q\ninstructions = \"Check %s.\"\n", id, name, name, kind, id)
	}
	cat, err := ParseCatalogue([]byte(sb.String()))
	require.NoError(t, err)
	return cat
}

func findingJSON(title string, objects ...string) string {
	b, _ := json.Marshal([]map[string]any{{
		"title":          title,
		"severity":       "high",
		"description":    "d",
		"recommendation": "r",
		"evidence": map[string]any{
			"affected_objects": objects,
			"count":            len(objects),
		},
	}})
	return string(b)
}

var chunkRe = regexp.MustCompile(`chunk (\d+) of (\d+)`)

// chunkIndex returns the zero-based chunk index announced in a prompt
func chunkIndex(prompt string) int {
	m := chunkRe.FindStringSubmatch(prompt)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n - 1
}

package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/analysis"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `{"Domain":{"DNSRoot":"corp.example.com"},"Users":[{"SamAccountName":"a1"}]}`

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodeUpload(t *testing.T) {
	bom := append([]byte{0xEF, 0xBB, 0xBF}, sampleDocument...)

	tests := []struct {
		name     string
		filename string
		data     []byte
		wantErr  bool
	}{
		{name: "plain json", filename: "export.json", data: []byte(sampleDocument)},
		{name: "json with bom", filename: "export.json", data: bom},
		{name: "no extension", filename: "", data: []byte(sampleDocument)},
		{name: "zip with one json", filename: "export.zip", data: zipOf(t, map[string]string{"export.json": sampleDocument, "readme.txt": "hi"})},
		{name: "zip detected by signature", filename: "upload.bin", data: zipOf(t, map[string]string{"a/export.JSON": sampleDocument})},
		{name: "zip ignores macos metadata", filename: "export.zip", data: zipOf(t, map[string]string{"export.json": sampleDocument, "__MACOSX/._export.json": "junk"})},
		{name: "zip with two json", filename: "export.zip", data: zipOf(t, map[string]string{"a.json": "{}", "b.json": "{}"}), wantErr: true},
		{name: "zip without json", filename: "export.zip", data: zipOf(t, map[string]string{"a.txt": "{}"}), wantErr: true},
		{name: "corrupt zip", filename: "export.zip", data: []byte("not a zip"), wantErr: true},
		{name: "unsupported extension", filename: "export.csv", data: []byte("a,b"), wantErr: true},
		{name: "empty file", filename: "export.json", data: nil, wantErr: true},
		{name: "bom only", filename: "export.json", data: []byte{0xEF, 0xBB, 0xBF, ' '}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeUpload(tt.filename, tt.data)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidUpload)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, sampleDocument, string(got))
		})
	}
}

func newTestUploadService(repo *fakeRepo, archive Archiver, events EventPublisher, runs RunStarter, auto bool) *UploadService {
	return NewUploadService(repo, repo, archive, events, runs, auto, []string{"users", "groups"})
}

func TestUpload_StoresCompressedDocument(t *testing.T) {
	repo := newFakeRepo()
	archive := &fakeArchive{}
	events := &capturedEvents{}
	svc := newTestUploadService(repo, archive, events, nil, false)

	res, err := svc.Upload(context.Background(), UploadRequest{AssessmentID: "as-1", Filename: "export.json", Data: []byte(sampleDocument)})
	require.NoError(t, err)

	assert.Equal(t, "as-1", res.AssessmentID)
	assert.EqualValues(t, 1, res.Generation)
	assert.EqualValues(t, len(sampleDocument), res.SizeBytes)
	assert.False(t, res.AnalysisStarted)

	a, err := repo.GetByID(context.Background(), "as-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploaded, a.Status)
	assert.Equal(t, "corp.example.com", a.Domain, "domain name is read from the document")
	assert.EqualValues(t, 1, a.Progress.Generation)
	assert.Equal(t, 2, a.Progress.Total)

	blob, err := repo.Get(context.Background(), "as-1")
	require.NoError(t, err)
	raw, err := analysis.Decompress(blob.Compressed)
	require.NoError(t, err)
	assert.JSONEq(t, sampleDocument, string(raw))

	assert.Len(t, archive.keys, 1)
	assert.Equal(t, domain.EventDocumentUploaded, events.last().Type)
}

func TestUpload_GeneratesIDAndKeepsExplicitDomain(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestUploadService(repo, nil, nil, nil, false)

	res, err := svc.Upload(context.Background(), UploadRequest{DomainName: "lab.local", Data: []byte(sampleDocument)})
	require.NoError(t, err)
	require.NotEmpty(t, res.AssessmentID)

	a, err := repo.GetByID(context.Background(), res.AssessmentID)
	require.NoError(t, err)
	assert.Equal(t, "lab.local", a.Domain)
}

func TestUpload_ReplacesEarlierDocument(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestUploadService(repo, nil, nil, nil, false)
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadRequest{AssessmentID: "as-1", Data: []byte(sampleDocument)})
	require.NoError(t, err)
	repo.findings["as-1"] = []domain.Finding{{Title: "old"}}

	res, err := svc.Upload(ctx, UploadRequest{AssessmentID: "as-1", Data: []byte(`{"Users":[]}`)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Generation)
	assert.Empty(t, repo.findings["as-1"], "findings of the previous document are cleared")
}

func TestUpload_InvalidDocumentStoresNothing(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestUploadService(repo, nil, nil, nil, false)

	_, err := svc.Upload(context.Background(), UploadRequest{AssessmentID: "as-1", Data: []byte(`[1,2,3]`)})
	require.ErrorIs(t, err, domain.ErrInvalidUpload)
	assert.Empty(t, repo.assessments)
	assert.Empty(t, repo.documents)
}

func TestUpload_AutoAnalyze(t *testing.T) {
	tests := []struct {
		name        string
		startErr    error
		wantStarted bool
		wantMessage string
	}{
		{name: "started", wantStarted: true, wantMessage: "analysis started"},
		{name: "already running", startErr: domain.ErrAnalysisRunning, wantMessage: "restart on the new document"},
		{name: "start failure keeps upload", startErr: errors.New("boom"), wantMessage: "uploaded successfully"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			runs := &fakeStarter{err: tt.startErr}
			svc := newTestUploadService(repo, nil, nil, runs, true)

			res, err := svc.Upload(context.Background(), UploadRequest{AssessmentID: "as-1", Data: []byte(sampleDocument)})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStarted, res.AnalysisStarted)
			assert.Contains(t, res.Message, tt.wantMessage)
		})
	}
}

func TestUpload_ArchiveFailureIsNotFatal(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestUploadService(repo, &fakeArchive{err: errors.New("bucket missing")}, nil, nil, false)

	_, err := svc.Upload(context.Background(), UploadRequest{AssessmentID: "as-1", Data: []byte(sampleDocument)})
	require.NoError(t, err)
}

package analysis

import (
	"bytes"
	"fmt"
	"io"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzip"
)

// Compress gzips an uploaded document for storage
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress document: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress document: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip document: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress document: %w", err)
	}
	return out, nil
}

// DocumentLoader decodes stored blobs and caches the parsed documents by
// assessment and upload generation.
type DocumentLoader struct {
	cache *lru.Cache[string, Document]
}

// NewDocumentLoader keeps up to size parsed documents
func NewDocumentLoader(size int) *DocumentLoader {
	if size < 1 {
		size = 8
	}
	cache, _ := lru.New[string, Document](size)
	return &DocumentLoader{cache: cache}
}

// Load returns the parsed document of blob
func (l *DocumentLoader) Load(blob *domain.DocumentBlob) (Document, error) {
	key := fmt.Sprintf("%s:%d", blob.AssessmentID, blob.Generation)
	if doc, ok := l.cache.Get(key); ok {
		return doc, nil
	}

	raw, err := Decompress(blob.Compressed)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(raw)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, doc)
	return doc, nil
}

// Forget drops every cached generation of an assessment
func (l *DocumentLoader) Forget(assessmentID string) {
	prefix := assessmentID + ":"
	for _, k := range l.cache.Keys() {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			l.cache.Remove(k)
		}
	}
}

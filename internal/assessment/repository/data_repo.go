package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
)

// DataRepository stores the compressed uploaded document of an assessment
type DataRepository struct {
	db *sql.DB
}

// NewDataRepository creates a new DataRepository
func NewDataRepository(db *sql.DB) *DataRepository {
	return &DataRepository{db: db}
}

// Upsert stores the compressed document and returns the new generation.
// Every upload for the same assessment bumps the generation by one.
func (r *DataRepository) Upsert(ctx context.Context, assessmentID string, compressed []byte, rawSize int64) (int64, error) {
	const q = `
		INSERT INTO assessment_data (assessment_id, data, size_bytes, generation)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (assessment_id) DO UPDATE SET
			data = EXCLUDED.data,
			size_bytes = EXCLUDED.size_bytes,
			generation = assessment_data.generation + 1,
			uploaded_at = NOW()
		RETURNING generation
	`
	var generation int64
	if err := r.db.QueryRowContext(ctx, q, assessmentID, compressed, rawSize).Scan(&generation); err != nil {
		return 0, fmt.Errorf("failed to store assessment data: %w", err)
	}
	return generation, nil
}

// Get loads the compressed document
func (r *DataRepository) Get(ctx context.Context, assessmentID string) (*domain.DocumentBlob, error) {
	const q = `
		SELECT assessment_id, data, generation, size_bytes, uploaded_at
		FROM assessment_data
		WHERE assessment_id = $1
	`
	var b domain.DocumentBlob
	err := r.db.QueryRowContext(ctx, q, assessmentID).Scan(
		&b.AssessmentID,
		&b.Compressed,
		&b.Generation,
		&b.SizeBytes,
		&b.UploadedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment data: %w", err)
	}
	return &b, nil
}

// Generation returns the current upload generation, or ErrNoDocument
func (r *DataRepository) Generation(ctx context.Context, assessmentID string) (int64, error) {
	var generation int64
	err := r.db.QueryRowContext(ctx, `SELECT generation FROM assessment_data WHERE assessment_id = $1`, assessmentID).
		Scan(&generation)
	if err == sql.ErrNoRows {
		return 0, domain.ErrNoDocument
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get data generation: %w", err)
	}
	return generation, nil
}

// Exists reports whether a document was uploaded for the assessment
func (r *DataRepository) Exists(ctx context.Context, assessmentID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM assessment_data WHERE assessment_id = $1)`, assessmentID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check assessment data: %w", err)
	}
	return exists, nil
}

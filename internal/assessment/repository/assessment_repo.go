package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/google/uuid"
)

// AssessmentRepository handles PostgreSQL operations for assessments
type AssessmentRepository struct {
	db *sql.DB
}

// NewAssessmentRepository creates a new AssessmentRepository
func NewAssessmentRepository(db *sql.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

const assessmentColumns = `id, domain, status, analysis_progress, created_at, updated_at, completed_at`

// Create inserts a new assessment in pending status
func (r *AssessmentRepository) Create(ctx context.Context, a *domain.Assessment) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.StatusPending
	}

	progressJSON, err := json.Marshal(a.Progress)
	if err != nil {
		progressJSON = []byte("{}")
	}

	const q = `
		INSERT INTO assessments (id, domain, status, analysis_progress)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	if err := r.db.QueryRowContext(ctx, q, a.ID, a.Domain, a.Status, progressJSON).
		Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create assessment: %w", err)
	}
	return nil
}

// EnsureExists creates the assessment row when it is missing. Uploads may
// reference an id the client generated itself.
func (r *AssessmentRepository) EnsureExists(ctx context.Context, id, domainName string) error {
	const q = `
		INSERT INTO assessments (id, domain, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (id) DO UPDATE SET
			domain = CASE WHEN EXCLUDED.domain <> '' THEN EXCLUDED.domain ELSE assessments.domain END,
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, q, id, domainName); err != nil {
		return fmt.Errorf("failed to ensure assessment: %w", err)
	}
	return nil
}

// GetByID retrieves an assessment by id
func (r *AssessmentRepository) GetByID(ctx context.Context, id string) (*domain.Assessment, error) {
	q := `SELECT ` + assessmentColumns + ` FROM assessments WHERE id = $1`
	a, err := scanAssessment(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrAssessmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return a, nil
}

// List returns all assessments, newest first
func (r *AssessmentRepository) List(ctx context.Context) ([]domain.Assessment, error) {
	q := `SELECT ` + assessmentColumns + ` FROM assessments ORDER BY created_at DESC`
	return r.query(ctx, q)
}

// ListByStatus returns assessments currently in the given status
func (r *AssessmentRepository) ListByStatus(ctx context.Context, status string) ([]domain.Assessment, error) {
	q := `SELECT ` + assessmentColumns + ` FROM assessments WHERE status = $1 ORDER BY updated_at ASC`
	return r.query(ctx, q, status)
}

func (r *AssessmentRepository) query(ctx context.Context, q string, args ...any) ([]domain.Assessment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	out := []domain.Assessment{}
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assessments: %w", err)
	}
	return out, nil
}

// UpdateStatus moves an assessment to a new status. completed_at is set when
// the new status is completed and cleared otherwise.
func (r *AssessmentRepository) UpdateStatus(ctx context.Context, id, status string) error {
	const q = `
		UPDATE assessments SET
			status = $2,
			completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return fmt.Errorf("failed to update assessment status: %w", err)
	}
	return expectOneRow(res)
}

// SaveProgress persists the progress snapshot
func (r *AssessmentRepository) SaveProgress(ctx context.Context, id string, progress domain.AnalysisProgress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	const q = `UPDATE assessments SET analysis_progress = $2, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id, progressJSON)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return expectOneRow(res)
}

// Reset deletes every finding of the assessment and stores the given status
// and progress in one transaction.
func (r *AssessmentRepository) Reset(ctx context.Context, id, status string, progress domain.AnalysisProgress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE assessment_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete findings: %w", err)
	}

	const q = `
		UPDATE assessments SET
			status = $2,
			analysis_progress = $3,
			completed_at = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, q, id, status, progressJSON)
	if err != nil {
		return fmt.Errorf("failed to reset assessment: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete removes the assessment. Findings, data and logs cascade.
func (r *AssessmentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM assessments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete assessment: %w", err)
	}
	return expectOneRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*domain.Assessment, error) {
	var a domain.Assessment
	var progressJSON []byte
	var completedAt sql.NullTime

	if err := row.Scan(
		&a.ID,
		&a.Domain,
		&a.Status,
		&progressJSON,
		&a.CreatedAt,
		&a.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}

	if len(progressJSON) > 0 {
		if err := json.Unmarshal(progressJSON, &a.Progress); err != nil {
			a.Progress = domain.AnalysisProgress{}
		}
	}
	if a.Progress.Categories == nil {
		a.Progress.Categories = map[string]string{}
	}

	return &a, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrAssessmentNotFound
	}
	return nil
}

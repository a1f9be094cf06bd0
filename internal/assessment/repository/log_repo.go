package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/google/uuid"
)

// LogRepository stores the per-assessment analysis log shown in the UI
type LogRepository struct {
	db *sql.DB
}

// NewLogRepository creates a new LogRepository
func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Append inserts one log line
func (r *LogRepository) Append(ctx context.Context, entry *domain.AssessmentLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Level == "" {
		entry.Level = domain.LogInfo
	}

	const q = `
		INSERT INTO assessment_logs (id, assessment_id, level, category_id, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	if err := r.db.QueryRowContext(ctx, q,
		entry.ID,
		entry.AssessmentID,
		entry.Level,
		nullString(entry.CategoryID),
		entry.Message,
	).Scan(&entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

// ListByAssessment returns log lines in chronological order
func (r *LogRepository) ListByAssessment(ctx context.Context, assessmentID string) ([]domain.AssessmentLog, error) {
	const q = `
		SELECT id, assessment_id, level, category_id, message, created_at
		FROM assessment_logs
		WHERE assessment_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, q, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	out := []domain.AssessmentLog{}
	for rows.Next() {
		var l domain.AssessmentLog
		var categoryID sql.NullString
		if err := rows.Scan(&l.ID, &l.AssessmentID, &l.Level, &categoryID, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.CategoryID = categoryID.String
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}
	return out, nil
}

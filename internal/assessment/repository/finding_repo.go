package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/GoSim-25-26J-441/adsec-backend/internal/assessment/domain"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// FindingRepository persists findings per assessment and category
type FindingRepository struct {
	db *sql.DB
}

// NewFindingRepository creates a new FindingRepository
func NewFindingRepository(db *sql.DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// Write inserts all findings of one category in a single transaction. The
// document row is share-locked and must still be at generation, otherwise
// nothing is written and ErrDocumentReplaced is returned. An empty slice
// writes nothing.
func (r *FindingRepository) Write(ctx context.Context, assessmentID, categoryID string, generation int64, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT generation FROM assessment_data WHERE assessment_id = $1 FOR SHARE`, assessmentID).
		Scan(&current)
	if err == sql.ErrNoRows || (err == nil && current != generation) {
		return domain.ErrDocumentReplaced
	}
	if err != nil {
		return fmt.Errorf("failed to lock assessment data: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (
			id, assessment_id, category_id, type_id, title, severity,
			description, recommendation, evidence, affected_objects, affected_count,
			mitre_attack, cis_control, impact_business, remediation_commands,
			prerequisites, operational_impact, microsoft_docs, current_vs_recommended, timeline
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range findings {
		f := &findings[i]
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		f.AssessmentID = assessmentID
		f.CategoryID = categoryID

		evidenceJSON, err := json.Marshal(f.Evidence)
		if err != nil {
			evidenceJSON = []byte("{}")
		}
		objects := f.Evidence.AffectedObjects
		if objects == nil {
			objects = []string{}
		}

		if _, err := stmt.ExecContext(ctx,
			f.ID,
			assessmentID,
			categoryID,
			nullString(f.TypeID),
			f.Title,
			f.Severity,
			f.Description,
			f.Recommendation,
			evidenceJSON,
			pq.Array(objects),
			f.AffectedCount,
			nullString(f.MitreAttack),
			nullString(f.CISControl),
			nullString(f.ImpactBusiness),
			nullString(f.RemediationCommands),
			nullString(f.Prerequisites),
			nullString(f.OperationalImpact),
			nullString(f.MicrosoftDocs),
			nullString(f.CurrentVsRecommended),
			nullString(f.Timeline),
		); err != nil {
			return fmt.Errorf("failed to insert finding %q: %w", f.Title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByAssessment returns findings ordered critical, high, medium, low, then
// anything else, oldest first within a severity.
func (r *FindingRepository) ListByAssessment(ctx context.Context, assessmentID string) ([]domain.Finding, error) {
	const q = `
		SELECT id, assessment_id, category_id, type_id, title, severity,
		       description, recommendation, evidence, affected_count,
		       mitre_attack, cis_control, impact_business, remediation_commands,
		       prerequisites, operational_impact, microsoft_docs, current_vs_recommended,
		       timeline, created_at
		FROM findings
		WHERE assessment_id = $1
		ORDER BY CASE lower(severity)
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			WHEN 'low' THEN 3
			ELSE 4
		END, created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, q, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	out := []domain.Finding{}
	for rows.Next() {
		var f domain.Finding
		var evidenceJSON []byte
		var typeID, mitre, cis, impact, cmds, prereq, opImpact, docs, cvr, timeline sql.NullString

		if err := rows.Scan(
			&f.ID,
			&f.AssessmentID,
			&f.CategoryID,
			&typeID,
			&f.Title,
			&f.Severity,
			&f.Description,
			&f.Recommendation,
			&evidenceJSON,
			&f.AffectedCount,
			&mitre,
			&cis,
			&impact,
			&cmds,
			&prereq,
			&opImpact,
			&docs,
			&cvr,
			&timeline,
			&f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}

		if len(evidenceJSON) > 0 {
			if err := json.Unmarshal(evidenceJSON, &f.Evidence); err != nil {
				f.Evidence = domain.Evidence{}
			}
		}
		f.TypeID = typeID.String
		f.MitreAttack = mitre.String
		f.CISControl = cis.String
		f.ImpactBusiness = impact.String
		f.RemediationCommands = cmds.String
		f.Prerequisites = prereq.String
		f.OperationalImpact = opImpact.String
		f.MicrosoftDocs = docs.String
		f.CurrentVsRecommended = cvr.String
		f.Timeline = timeline.String

		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}
	return out, nil
}

// CategoriesWithFindings lists the categories that have at least one stored
// finding for the assessment.
func (r *FindingRepository) CategoriesWithFindings(ctx context.Context, assessmentID string) ([]string, error) {
	const q = `SELECT DISTINCT category_id FROM findings WHERE assessment_id = $1`
	rows, err := r.db.QueryContext(ctx, q, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query finding categories: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return ids, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

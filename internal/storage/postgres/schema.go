package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  domain TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending'
    CHECK (status IN ('pending','uploaded','analyzing','completed','failed')),
  analysis_progress JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS assessment_data (
  assessment_id TEXT PRIMARY KEY REFERENCES assessments(id) ON DELETE CASCADE,
  data BYTEA NOT NULL,
  size_bytes BIGINT NOT NULL DEFAULT 0,
  generation BIGINT NOT NULL DEFAULT 1,
  uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS findings (
  id TEXT PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  category_id TEXT NOT NULL,
  type_id TEXT,
  title TEXT NOT NULL,
  severity TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  recommendation TEXT NOT NULL DEFAULT '',
  evidence JSONB NOT NULL DEFAULT '{}'::jsonb,
  affected_objects TEXT[] NOT NULL DEFAULT '{}',
  affected_count INTEGER NOT NULL DEFAULT 0,
  mitre_attack TEXT,
  cis_control TEXT,
  impact_business TEXT,
  remediation_commands TEXT,
  prerequisites TEXT,
  operational_impact TEXT,
  microsoft_docs TEXT,
  current_vs_recommended TEXT,
  timeline TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS findings_assessment_category_idx ON findings (assessment_id, category_id);

CREATE TABLE IF NOT EXISTS assessment_logs (
  id TEXT PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  level TEXT NOT NULL DEFAULT 'info',
  category_id TEXT,
  message TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS assessment_logs_assessment_idx ON assessment_logs (assessment_id, created_at);

CREATE TABLE IF NOT EXISTS system_config (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables the service needs when they are missing.
// It is idempotent and runs on every start.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

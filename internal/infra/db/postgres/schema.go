package postgres

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_records (
  id                  VARCHAR(36)   PRIMARY KEY,
  direction           VARCHAR(16)   NOT NULL,
  caller_number       VARCHAR(32)   NOT NULL,
  caller_digits       VARCHAR(32)   NOT NULL,
  called_number       VARCHAR(32)   NOT NULL DEFAULT '',
  patient_id          VARCHAR(64),
  patient_name        VARCHAR(128),
  patient_confidence  VARCHAR(8),
  patient_match_type  VARCHAR(16),
  caller_name         VARCHAR(128)  NOT NULL DEFAULT '',
  caller_name_manual  BOOLEAN       NOT NULL DEFAULT FALSE,
  duration_seconds    INTEGER       NOT NULL DEFAULT 0,
  recording_ref       VARCHAR(1024) NOT NULL DEFAULT '',
  recording_key       VARCHAR(255)  NOT NULL DEFAULT '',
  pipeline_status     VARCHAR(32)   NOT NULL,
  retry_count         INTEGER       NOT NULL DEFAULT 0,
  failure_reason      VARCHAR(512)  NOT NULL DEFAULT '',
  transcript          JSONB,
  started_at          TIMESTAMPTZ   NOT NULL,
  completed_at        TIMESTAMPTZ,
  created_at          TIMESTAMPTZ   NOT NULL,
  updated_at          TIMESTAMPTZ   NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_call_records_digits_created ON call_records (caller_digits, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_call_records_updated ON call_records (updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_call_records_status_created ON call_records (pipeline_status, created_at)`,
	`CREATE TABLE IF NOT EXISTS call_analyses (
  id            VARCHAR(36)  PRIMARY KEY,
  call_id       VARCHAR(36)  NOT NULL,
  category      VARCHAR(32)  NOT NULL,
  temperature   VARCHAR(8)   NOT NULL,
  follow_up     VARCHAR(32)  NOT NULL,
  confidence    DOUBLE PRECISION NOT NULL,
  degraded      BOOLEAN      NOT NULL DEFAULT FALSE,
  payload       JSONB        NOT NULL,
  generated_at  TIMESTAMPTZ  NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_call_analyses_call ON call_analyses (call_id, generated_at)`,
	`CREATE TABLE IF NOT EXISTS call_stage_errors (
  id          BIGSERIAL    PRIMARY KEY,
  call_id     VARCHAR(36)  NOT NULL,
  stage       VARCHAR(16)  NOT NULL,
  attempts    INTEGER      NOT NULL,
  message     TEXT         NOT NULL,
  created_at  TIMESTAMPTZ  NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_call_stage_errors_call ON call_stage_errors (call_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS patients (
  id               VARCHAR(64)   PRIMARY KEY,
  name             VARCHAR(128)  NOT NULL DEFAULT '',
  phone            VARCHAR(32)   NOT NULL DEFAULT '',
  mobile           VARCHAR(32)   NOT NULL DEFAULT '',
  home_phone       VARCHAR(32)   NOT NULL DEFAULT '',
  work_phone       VARCHAR(32)   NOT NULL DEFAULT '',
  status           VARCHAR(32)   NOT NULL DEFAULT '',
  temperature      VARCHAR(8)    NOT NULL DEFAULT '',
  interest         VARCHAR(64)   NOT NULL DEFAULT '',
  interest_detail  VARCHAR(512)  NOT NULL DEFAULT '',
  last_contact_at  TIMESTAMPTZ,
  updated_at       TIMESTAMPTZ   NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS patient_phones (
  patient_id  VARCHAR(64)  NOT NULL,
  kind        VARCHAR(16)  NOT NULL,
  digits      VARCHAR(32)  NOT NULL,
  digits_rev  VARCHAR(32)  NOT NULL,
  PRIMARY KEY (patient_id, kind)
)`,
	`CREATE INDEX IF NOT EXISTS idx_patient_phones_digits ON patient_phones (digits)`,
	`CREATE INDEX IF NOT EXISTS idx_patient_phones_rev ON patient_phones (digits_rev text_pattern_ops)`,
}

// Migrate creates missing tables and indexes.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "postgres schema statement %d", i+1)
		}
	}
	return nil
}

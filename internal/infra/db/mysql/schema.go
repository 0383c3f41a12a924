package mysql

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_records (
  id                  VARCHAR(36)   NOT NULL PRIMARY KEY,
  direction           VARCHAR(16)   NOT NULL,
  caller_number       VARCHAR(32)   NOT NULL,
  caller_digits       VARCHAR(32)   NOT NULL,
  called_number       VARCHAR(32)   NOT NULL DEFAULT '',
  patient_id          VARCHAR(64)   NULL,
  patient_name        VARCHAR(128)  NULL,
  patient_confidence  VARCHAR(8)    NULL,
  patient_match_type  VARCHAR(16)   NULL,
  caller_name         VARCHAR(128)  NOT NULL DEFAULT '',
  caller_name_manual  TINYINT(1)    NOT NULL DEFAULT 0,
  duration_seconds    INT           NOT NULL DEFAULT 0,
  recording_ref       VARCHAR(1024) NOT NULL DEFAULT '',
  recording_key       VARCHAR(255)  NOT NULL DEFAULT '',
  pipeline_status     VARCHAR(32)   NOT NULL,
  retry_count         INT           NOT NULL DEFAULT 0,
  failure_reason      VARCHAR(512)  NOT NULL DEFAULT '',
  transcript          JSON          NULL,
  started_at          DATETIME(3)   NOT NULL,
  completed_at        DATETIME(3)   NULL,
  created_at          DATETIME(3)   NOT NULL,
  updated_at          DATETIME(3)   NOT NULL,
  KEY idx_call_records_digits_created (caller_digits, created_at),
  KEY idx_call_records_updated (updated_at),
  KEY idx_call_records_status_created (pipeline_status, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS call_analyses (
  id            VARCHAR(36)  NOT NULL PRIMARY KEY,
  call_id       VARCHAR(36)  NOT NULL,
  category      VARCHAR(32)  NOT NULL,
  temperature   VARCHAR(8)   NOT NULL,
  follow_up     VARCHAR(32)  NOT NULL,
  confidence    DOUBLE       NOT NULL,
  degraded      TINYINT(1)   NOT NULL DEFAULT 0,
  payload       JSON         NOT NULL,
  generated_at  DATETIME(3)  NOT NULL,
  KEY idx_call_analyses_call (call_id, generated_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS call_stage_errors (
  id          BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  call_id     VARCHAR(36)  NOT NULL,
  stage       VARCHAR(16)  NOT NULL,
  attempts    INT          NOT NULL,
  message     TEXT         NOT NULL,
  created_at  DATETIME(3)  NOT NULL,
  KEY idx_call_stage_errors_call (call_id, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS patients (
  id               VARCHAR(64)   NOT NULL PRIMARY KEY,
  name             VARCHAR(128)  NOT NULL DEFAULT '',
  phone            VARCHAR(32)   NOT NULL DEFAULT '',
  mobile           VARCHAR(32)   NOT NULL DEFAULT '',
  home_phone       VARCHAR(32)   NOT NULL DEFAULT '',
  work_phone       VARCHAR(32)   NOT NULL DEFAULT '',
  status           VARCHAR(32)   NOT NULL DEFAULT '',
  temperature      VARCHAR(8)    NOT NULL DEFAULT '',
  interest         VARCHAR(64)   NOT NULL DEFAULT '',
  interest_detail  VARCHAR(512)  NOT NULL DEFAULT '',
  last_contact_at  DATETIME(3)   NULL,
  updated_at       DATETIME(3)   NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS patient_phones (
  patient_id  VARCHAR(64)  NOT NULL,
  kind        VARCHAR(16)  NOT NULL,
  digits      VARCHAR(32)  NOT NULL,
  digits_rev  VARCHAR(32)  NOT NULL,
  PRIMARY KEY (patient_id, kind),
  KEY idx_patient_phones_digits (digits),
  KEY idx_patient_phones_rev (digits_rev)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "mysql schema statement %d", i+1)
		}
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/stageerrors"
)

type StageErrorRepository struct {
	db *sql.DB
}

func NewStageErrorRepository(db *sql.DB) *StageErrorRepository {
	return &StageErrorRepository{db: db}
}

func (r *StageErrorRepository) Save(ctx context.Context, e *stageerrors.StageError) error {
	const q = `
INSERT INTO call_stage_errors (call_id, stage, attempts, message, created_at)
VALUES ($1,$2,$3,$4,$5)
RETURNING id`
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = utcNow()
	}
	return r.db.QueryRowContext(ctx, q, e.CallID, e.Stage, e.Attempts, msg, created).Scan(&e.ID)
}

func (r *StageErrorRepository) ListByCall(ctx context.Context, callID string, limit int) ([]*stageerrors.StageError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, call_id, stage, attempts, message, created_at
FROM call_stage_errors
WHERE call_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, callID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*stageerrors.StageError
	for rows.Next() {
		var e stageerrors.StageError
		if err := rows.Scan(&e.ID, &e.CallID, &e.Stage, &e.Attempts, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

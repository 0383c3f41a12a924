package mysql

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
VALUES (?,?,?,?,?)`
	msg := e.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = utcNow()
	}
	res, err := r.db.ExecContext(ctx, q, e.CallID, e.Stage, e.Attempts, msg, created)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (r *StageErrorRepository) ListByCall(ctx context.Context, callID string, limit int) ([]*stageerrors.StageError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, call_id, stage, attempts, message, created_at
FROM call_stage_errors
WHERE call_id=?
ORDER BY created_at DESC, id DESC
LIMIT ?`
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

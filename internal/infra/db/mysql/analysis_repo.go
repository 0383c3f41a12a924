package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
)

// AnalysisRepository keeps every generated result; reads return the newest per call.
type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository { return &AnalysisRepository{db: db} }

func (r *AnalysisRepository) Save(ctx context.Context, a *analysis.Result) error {
	const q = `
INSERT INTO call_analyses
(id, call_id, category, temperature, follow_up, confidence, degraded, payload, generated_at)
VALUES (?,?,?,?,?,?,?,?,?)`
	payload, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "encode analysis")
	}
	_, err = r.db.ExecContext(ctx, q,
		a.ID, a.CallID, a.Category, a.Temperature, a.FollowUp, a.Confidence, a.Degraded,
		payload, a.GeneratedAt,
	)
	return err
}

func (r *AnalysisRepository) LatestByCall(ctx context.Context, callID string) (*analysis.Result, error) {
	const q = `
SELECT payload FROM call_analyses
WHERE call_id=?
ORDER BY generated_at DESC, id DESC LIMIT 1`
	var payload []byte
	err := r.db.QueryRowContext(ctx, q, callID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var a analysis.Result
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, eris.Wrapf(err, "decode analysis of call %s", callID)
	}
	return &a, nil
}

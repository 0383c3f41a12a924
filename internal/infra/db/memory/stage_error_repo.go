package memory

import (
	"context"
	"sync"
	"time"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/stageerrors"
)

type StageErrorRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   []stageerrors.StageError
}

func NewStageErrorRepository() *StageErrorRepository { return &StageErrorRepository{} }

func (r *StageErrorRepository) Save(_ context.Context, e *stageerrors.StageError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.rows = append(r.rows, *e)
	return nil
}

// ListByCall returns newest first.
func (r *StageErrorRepository) ListByCall(_ context.Context, callID string, limit int) ([]*stageerrors.StageError, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*stageerrors.StageError
	for i := len(r.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if r.rows[i].CallID == callID {
			e := r.rows[i]
			out = append(out, &e)
		}
	}
	return out, nil
}

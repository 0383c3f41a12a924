package memory

import (
	"context"
	"sync"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
)

type AnalysisRepository struct {
	mu     sync.Mutex
	byCall map[string][]analysis.Result
}

func NewAnalysisRepository() *AnalysisRepository {
	return &AnalysisRepository{byCall: make(map[string][]analysis.Result)}
}

func (r *AnalysisRepository) Save(_ context.Context, a *analysis.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCall[a.CallID] = append(r.byCall[a.CallID], *a)
	return nil
}

func (r *AnalysisRepository) LatestByCall(_ context.Context, callID string) (*analysis.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byCall[callID]
	if len(list) == 0 {
		return nil, nil
	}
	latest := list[len(list)-1]
	return &latest, nil
}

// CountByCall is the number of analyses generated for a call.
func (r *AnalysisRepository) CountByCall(callID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byCall[callID])
}

package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/ai"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
)

// ClassifyStage asks the language model for a structured analysis. Only a
// failed model call is an error; undecodable output becomes analysis.Fallback.
type ClassifyStage struct {
	LLM    ai.Classifier
	Logger *zap.Logger
}

func (s *ClassifyStage) Run(ctx context.Context, t analysis.Transcript) (analysis.Result, error) {
	raw, err := s.LLM.Classify(ctx, t.Formatted)
	if err != nil {
		return analysis.Result{}, err
	}

	res, err := analysis.Decode(raw)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("classification output degraded", zap.Error(err), zap.Int("raw_len", len(raw)))
		}
		res = analysis.Fallback()
	}
	res.Transcript = t
	return res, nil
}

// CallerName applies display-name precedence: a manually corrected name, then
// the earliest name recognized for this number, then the freshly classified one.
// history holds other calls from the same number, oldest first.
func CallerName(current *calls.CallRecord, history []calls.NameObservation, fresh string) string {
	if current.CallerNameManual && current.CallerName != "" {
		return current.CallerName
	}
	seen := history
	if current.CallerName != "" {
		seen = insertByTime(history, calls.NameObservation{
			CallID:     current.ID,
			Name:       current.CallerName,
			Manual:     current.CallerNameManual,
			ObservedAt: current.CreatedAt,
		})
	}
	for _, h := range seen {
		if h.Manual && h.Name != "" {
			return h.Name
		}
	}
	for _, h := range seen {
		if h.Name != "" {
			return h.Name
		}
	}
	return fresh
}

func insertByTime(list []calls.NameObservation, o calls.NameObservation) []calls.NameObservation {
	out := make([]calls.NameObservation, 0, len(list)+1)
	inserted := false
	for _, h := range list {
		if !inserted && o.ObservedAt.Before(h.ObservedAt) {
			out = append(out, o)
			inserted = true
		}
		out = append(out, h)
	}
	if !inserted {
		out = append(out, o)
	}
	return out
}

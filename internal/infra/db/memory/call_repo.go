// Package memory keeps every store in process memory. It backs the "memory"
// database driver for local runs and the application tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/analysis"
	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
)

type CallRepository struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[calls.CallID]*calls.CallRecord
}

// NewCallRepository uses now for updated_at stamps; nil means time.Now.
func NewCallRepository(now func() time.Time) *CallRepository {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &CallRepository{now: now, records: make(map[calls.CallID]*calls.CallRecord)}
}

func clone(c *calls.CallRecord) *calls.CallRecord {
	cp := *c
	if c.Patient != nil {
		p := *c.Patient
		cp.Patient = &p
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	if c.Transcript != nil {
		t := *c.Transcript
		t.Segments = append([]analysis.Segment(nil), c.Transcript.Segments...)
		cp.Transcript = &t
	}
	return &cp
}

func (r *CallRepository) Create(_ context.Context, c *calls.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[c.ID]; ok {
		return fmt.Errorf("call record %s already exists", c.ID)
	}
	now := r.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = calls.StatusPending
	}
	r.records[c.ID] = clone(c)
	return nil
}

func (r *CallRepository) Get(_ context.Context, id calls.CallID) (*calls.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[id]
	if !ok {
		return nil, calls.ErrNotFound
	}
	return clone(c), nil
}

func (r *CallRepository) FindRecent(_ context.Context, digits string, since time.Time) (*calls.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *calls.CallRecord
	for _, c := range r.records {
		if c.CallerDigits != digits || c.CreatedAt.Before(since) {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

// update runs fn on the stored record under the lock and stamps updated_at.
func (r *CallRepository) update(id calls.CallID, fn func(c *calls.CallRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[id]
	if !ok {
		return calls.ErrNotFound
	}
	fn(c)
	c.UpdatedAt = r.now()
	return nil
}

func (r *CallRepository) UpdateIntake(_ context.Context, in *calls.CallRecord) error {
	return r.update(in.ID, func(c *calls.CallRecord) {
		c.Direction = in.Direction
		c.CalledNumber = in.CalledNumber
		if in.Patient != nil {
			p := *in.Patient
			c.Patient = &p
		} else {
			c.Patient = nil
		}
		c.DurationSeconds = in.DurationSeconds
		c.RecordingRef = in.RecordingRef
		c.RecordingKey = in.RecordingKey
		c.StartedAt = in.StartedAt
	})
}

func (r *CallRepository) SetRecordingKey(_ context.Context, id calls.CallID, key string) error {
	return r.update(id, func(c *calls.CallRecord) { c.RecordingKey = key })
}

func (r *CallRepository) TransitionStatus(ctx context.Context, id calls.CallID, from, to calls.PipelineStatus) (bool, error) {
	return r.guarded(ctx, id, from, func(c *calls.CallRecord) { c.Status = to })
}

// guarded runs fn only while the record is in from.
func (r *CallRepository) guarded(ctx context.Context, id calls.CallID, from calls.PipelineStatus, fn func(c *calls.CallRecord)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.records[id]
	if !ok {
		return false, calls.ErrNotFound
	}
	if c.Status != from {
		return false, nil
	}
	fn(c)
	c.UpdatedAt = r.now()
	return true, nil
}

func (r *CallRepository) SaveTranscript(ctx context.Context, id calls.CallID, t analysis.Transcript, retryCount int) (bool, error) {
	return r.guarded(ctx, id, calls.StatusProcessingTranscribe, func(c *calls.CallRecord) {
		t.Segments = append([]analysis.Segment(nil), t.Segments...)
		c.Transcript = &t
		c.RetryCount = retryCount
	})
}

func (r *CallRepository) MarkFailed(ctx context.Context, id calls.CallID, from calls.PipelineStatus, reason string, retryCount int) (bool, error) {
	return r.guarded(ctx, id, from, func(c *calls.CallRecord) {
		c.Status = calls.StatusFailed
		c.FailureReason = reason
		c.RetryCount = retryCount
	})
}

func (r *CallRepository) MarkSkipped(ctx context.Context, id calls.CallID, reason string) (bool, error) {
	return r.guarded(ctx, id, calls.StatusProcessingTranscribe, func(c *calls.CallRecord) {
		c.Status = calls.StatusSkipped
		c.FailureReason = reason
	})
}

func (r *CallRepository) MarkCompleted(ctx context.Context, id calls.CallID, callerName string, retryCount int, at time.Time) (bool, error) {
	return r.guarded(ctx, id, calls.StatusProcessingClassify, func(c *calls.CallRecord) {
		c.Status = calls.StatusCompleted
		if !c.CallerNameManual {
			c.CallerName = callerName
		}
		c.RetryCount = retryCount
		c.FailureReason = ""
		t := at
		c.CompletedAt = &t
	})
}

func (r *CallRepository) ResetForRetrigger(ctx context.Context, id calls.CallID, from calls.PipelineStatus) (bool, error) {
	return r.guarded(ctx, id, from, func(c *calls.CallRecord) {
		c.Status = calls.StatusPending
		c.RetryCount = 0
		c.FailureReason = ""
		c.CompletedAt = nil
	})
}

func (r *CallRepository) UpdatedSince(_ context.Context, since time.Time, limit int) ([]*calls.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*calls.CallRecord
	for _, c := range r.records {
		if c.UpdatedAt.After(since) {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CallRepository) ListRetryable(_ context.Context, from, to time.Time) ([]*calls.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*calls.CallRecord
	for _, c := range r.records {
		if c.Status != calls.StatusFailed && c.Status != calls.StatusPending {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) || !c.HasAudioSource() {
			continue
		}
		out = append(out, clone(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *CallRepository) CallerNameHistory(_ context.Context, digits string, exclude calls.CallID) ([]calls.NameObservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []calls.NameObservation
	for _, c := range r.records {
		if c.CallerDigits != digits || c.ID == exclude || c.CallerName == "" {
			continue
		}
		out = append(out, calls.NameObservation{
			CallID:     c.ID,
			Name:       c.CallerName,
			Manual:     c.CallerNameManual,
			ObservedAt: c.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.Before(out[j].ObservedAt)
		}
		return out[i].CallID < out[j].CallID
	})
	return out, nil
}

func (r *CallRepository) SetCallerName(_ context.Context, id calls.CallID, name string, manual bool) error {
	return r.update(id, func(c *calls.CallRecord) {
		c.CallerName = name
		c.CallerNameManual = manual
	})
}

package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
)

// Queue is the in-process job queue feeding the pipeline workers. A call id is
// queued at most once at a time; Cancel drops a job that has not started.
type Queue struct {
	jobs chan calls.CallID

	mu      sync.Mutex
	pending map[calls.CallID]bool
	active  int
	closed  bool

	log *zap.Logger
}

func NewQueue(size int, log *zap.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		jobs:    make(chan calls.CallID, size),
		pending: make(map[calls.CallID]bool),
		log:     log,
	}
}

// Enqueue reports false when the id is already waiting, the queue is full, or closed.
func (q *Queue) Enqueue(id calls.CallID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.pending[id] {
		return false
	}
	select {
	case q.jobs <- id:
		q.pending[id] = true
		return true
	default:
		q.log.Warn("pipeline queue full", zap.String("call_id", string(id)))
		return false
	}
}

// Cancel removes an unstarted job. Running jobs are not interrupted.
func (q *Queue) Cancel(id calls.CallID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.pending[id] {
		return false
	}
	delete(q.pending, id)
	return true
}

// Pending is the number of jobs waiting for a worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting jobs. Waiting jobs are still handed out until Run returns.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// take claims a dequeued id; false means it was cancelled.
func (q *Queue) take(id calls.CallID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.pending[id] {
		return false
	}
	delete(q.pending, id)
	q.active++
	return true
}

func (q *Queue) done() {
	q.mu.Lock()
	q.active--
	q.mu.Unlock()
}

func (q *Queue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && q.active == 0
}

// Drain waits until no job is waiting or running, or ctx ends.
func (q *Queue) Drain(ctx context.Context) error {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !q.idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}

// Run starts workers and blocks until ctx ends.
func (q *Queue) Run(ctx context.Context, workers int, handle func(ctx context.Context, id calls.CallID)) error {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		worker := i
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case id := <-q.jobs:
					if !q.take(id) {
						q.log.Debug("skipping cancelled job", zap.String("call_id", string(id)))
						continue
					}
					q.log.Debug("job picked", zap.Int("worker", worker), zap.String("call_id", string(id)))
					handle(gctx, id)
					q.done()
				}
			}
		})
	}
	return g.Wait()
}

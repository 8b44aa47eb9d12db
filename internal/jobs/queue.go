package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/reelcaster/internal/common"
	"github.com/jo-hoe/reelcaster/internal/util"
)

var (
	ErrQueueNotStarted = errors.New("queue not started")
	ErrQueueFull       = errors.New("queue is full")
	ErrQueueStopped    = errors.New("queue stopped")
)

// Processor defines how to process a Task.
type Processor interface {
	Process(ctx context.Context, task Task) error
}

// Queue runs tasks one at a time on a single worker, so pipeline operations
// never overlap inside the process. Submitting a kind that is already waiting
// is coalesced into the waiting task.
type Queue struct {
	log        *slog.Logger
	store      Store
	ch         chan Task
	waiting    map[Kind]Task
	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc
	started    bool
	stopped    bool
	mu         sync.Mutex
}

// NewQueue creates a queue with the given capacity. store may be nil, in
// which case no run history is written.
func NewQueue(logger *slog.Logger, capacity int, store Store) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		log:     logger,
		store:   store,
		ch:      make(chan Task, capacity),
		waiting: make(map[Kind]Task),
	}
}

// Start launches the worker goroutine.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.worker(ctx, p)
	q.started = true
	return nil
}

func (q *Queue) worker(ctx context.Context, p Processor) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			q.log.Debug("worker stopping due to context cancellation")
			return
		case task, ok := <-q.ch:
			if !ok {
				q.log.Debug("queue closed, worker exiting")
				return
			}
			q.mu.Lock()
			delete(q.waiting, task.Kind)
			stopped := q.stopped
			q.mu.Unlock()

			taskLog := q.log.With("run_id", task.ID, "task", task.Kind, "trigger", task.Trigger)
			if stopped {
				taskLog.Info("dropping task on shutdown")
				continue
			}
			taskLog.Debug("processing task")
			start := time.Now()
			if err := p.Process(ctx, task); err != nil {
				taskLog.Error("task failed", "err", err, "duration", time.Since(start))
			} else {
				taskLog.Debug("task processed", "duration", time.Since(start))
			}
		}
	}
}

// Submit queues a task of kind. When a task of the same kind is already
// waiting, that task is returned with coalesced set and nothing is queued.
func (q *Queue) Submit(kind Kind, trigger Trigger) (task Task, coalesced bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return Task{}, false, ErrQueueNotStarted
	}
	if q.stopped {
		return Task{}, false, ErrQueueStopped
	}
	if waiting, ok := q.waiting[kind]; ok {
		q.log.Debug("task already waiting, coalescing", "task", kind, "run_id", waiting.ID, "trigger", trigger)
		return waiting, true, nil
	}
	if len(q.ch) == cap(q.ch) {
		return Task{}, false, ErrQueueFull
	}

	task = Task{ID: util.NewID(), Kind: kind, Trigger: trigger}
	if q.store != nil {
		run := &Run{ID: task.ID, Kind: kind, Trigger: trigger, Stage: StageQueued}
		if err := q.store.CreateRun(run); err != nil {
			return Task{}, false, err
		}
	}
	// Capacity was checked under mu and only Submit sends, so this never blocks.
	q.ch <- task
	q.waiting[kind] = task
	return task, false, nil
}

// Shutdown stops accepting work, drops tasks that have not started and
// waits for the running task to finish. When the deadline passes first, the
// running task's context is cancelled.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()

		// close channel so the worker exits once it has drained it
		close(q.ch)

		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			q.stopWorker()
			<-done
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
			q.stopWorker()
		case <-timer.C:
			q.log.Warn("queue shutdown deadline reached; cancelling running task")
			q.stopWorker()
		}
	})
}

func (q *Queue) stopWorker() {
	if q.cancel != nil {
		q.cancel()
	}
}

package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/reelcaster/internal/common"
	"github.com/jo-hoe/reelcaster/internal/jobs"
	"github.com/jo-hoe/reelcaster/internal/notify"
	"github.com/jo-hoe/reelcaster/internal/pipeline"
)

// Operations are the pipeline steps a task can run.
type Operations interface {
	EnqueueNext(ctx context.Context) (pipeline.Result, error)
	PublishNext(ctx context.Context) (pipeline.Result, error)
	Produce(ctx context.Context) (pipeline.Result, error)
}

var _ Operations = (*pipeline.Pipeline)(nil)

// Worker implements jobs.Processor by dispatching tasks to the pipeline.
type Worker struct {
	Log      *slog.Logger
	Store    jobs.Store // optional run history
	Ops      Operations
	Notifier *notify.Notifier
	Stream   string
}

// Ensure Worker implements jobs.Processor
var _ jobs.Processor = (*Worker)(nil)

func New(log *slog.Logger, store jobs.Store, ops Operations, n *notify.Notifier, stream string) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		Log:      log,
		Store:    store,
		Ops:      ops,
		Notifier: n,
		Stream:   stream,
	}
}

func (w *Worker) Process(ctx context.Context, task jobs.Task) error {
	_, err := w.Execute(ctx, task)
	return err
}

// Execute runs task, records it in the run history and sends notifications.
func (w *Worker) Execute(ctx context.Context, task jobs.Task) (pipeline.Result, error) {
	log := w.Log.With("run_id", task.ID, "task", task.Kind, "stream", w.Stream)
	start := time.Now().UTC()
	if w.Store != nil {
		if err := w.Store.MarkRunning(task.ID, start); err != nil {
			log.Warn("mark run as running failed", "err", err)
		}
	}

	res, err := w.Run(ctx, task.Kind)
	done := time.Now().UTC()
	if err != nil {
		if res.Outcome == pipeline.OutcomeRetry {
			log.Warn("task will be retried on next trigger", "outcome", res.Outcome, "err", err, "duration", done.Sub(start))
		} else {
			log.Error("task failed", "outcome", res.Outcome, "err", err, "duration", done.Sub(start))
		}
		if w.Store != nil {
			if serr := w.Store.SaveError(task.ID, string(res.Outcome), err.Error(), done); serr != nil {
				log.Warn("save run error failed", "err", serr)
			}
		}
		msg := err.Error()
		w.notify(ctx, log, task, res, "failed", &msg)
		return res, err
	}

	log.Info("task finished", "outcome", res.Outcome, "duration", done.Sub(start))
	if w.Store != nil {
		if serr := w.Store.SaveResult(task.ID, string(res.Outcome), done); serr != nil {
			log.Warn("save run result failed", "err", serr)
		}
	}
	switch res.Outcome {
	case pipeline.OutcomePublished:
		w.notify(ctx, log, task, res, common.EventPublished, nil)
	case pipeline.OutcomeRecreated:
		w.notify(ctx, log, task, res, common.EventRecreated, nil)
	case pipeline.OutcomeProduced:
		w.notify(ctx, log, task, res, common.EventProduced, nil)
	}
	return res, nil
}

// Run executes the pipeline operation for kind.
func (w *Worker) Run(ctx context.Context, kind jobs.Kind) (pipeline.Result, error) {
	switch kind {
	case jobs.KindEnqueue:
		return w.Ops.EnqueueNext(ctx)
	case jobs.KindPublish:
		return w.Ops.PublishNext(ctx)
	case jobs.KindProduce:
		return w.Ops.Produce(ctx)
	default:
		return pipeline.Result{Outcome: pipeline.OutcomeFailed}, fmt.Errorf("unknown task kind %q", kind)
	}
}

func (w *Worker) notify(ctx context.Context, log *slog.Logger, task jobs.Task, res pipeline.Result, event string, errMsg *string) {
	if w.Notifier == nil {
		return
	}
	err := w.Notifier.Send(ctx, notify.Event{
		Event:       event,
		RunID:       task.ID,
		Task:        string(task.Kind),
		Outcome:     string(res.Outcome),
		Stream:      w.Stream,
		Part:        res.Part,
		FileID:      res.FileID,
		ContainerID: res.ContainerID,
		MediaID:     res.MediaID,
		Segments:    res.Segments,
		Error:       errMsg,
	})
	if err != nil {
		log.Warn("notification failed after retries", "event", event, "err", err)
	}
}

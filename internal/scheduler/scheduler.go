// Package scheduler submits pipeline tasks on cron schedules.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron"

	"github.com/jo-hoe/reelcaster/internal/config"
	"github.com/jo-hoe/reelcaster/internal/jobs"
)

// Submitter accepts tasks. jobs.Queue implements it.
type Submitter interface {
	Submit(kind jobs.Kind, trigger jobs.Trigger) (jobs.Task, bool, error)
}

var _ Submitter = (*jobs.Queue)(nil)

// Entry is one scheduled kind.
type Entry struct {
	Kind jobs.Kind
	Spec string
	Next time.Time
}

// Scheduler triggers tasks; it never runs pipeline code itself.
type Scheduler struct {
	log      *slog.Logger
	cron     *cron.Cron
	q        Submitter
	specs    map[jobs.Kind]string
	schedule map[jobs.Kind]cron.Schedule
}

// New registers every non-empty spec. Specs have six fields, seconds first.
func New(log *slog.Logger, cfg config.ScheduleConfig, q Submitter) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		log:      log,
		cron:     cron.New(),
		q:        q,
		specs:    map[jobs.Kind]string{},
		schedule: map[jobs.Kind]cron.Schedule{},
	}
	specs := map[jobs.Kind]string{
		jobs.KindEnqueue: cfg.Enqueue,
		jobs.KindPublish: cfg.Publish,
		jobs.KindProduce: cfg.Produce,
	}
	for _, kind := range jobs.Kinds {
		spec := strings.TrimSpace(specs[kind])
		if spec == "" {
			continue
		}
		sched, err := cron.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", kind, spec, err)
		}
		s.cron.Schedule(sched, cron.FuncJob(func() { s.Fire(kind) }))
		s.specs[kind] = spec
		s.schedule[kind] = sched
	}
	return s, nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.Entries(time.Now()) {
		s.log.Info("schedule registered", "task", e.Kind, "spec", e.Spec, "next", e.Next.Format(time.RFC3339))
	}
}

// Stop halts future triggers. A task already submitted keeps running in the queue.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Fire submits one task of kind as a scheduled trigger.
func (s *Scheduler) Fire(kind jobs.Kind) {
	task, coalesced, err := s.q.Submit(kind, jobs.TriggerSchedule)
	if err != nil {
		s.log.Error("scheduled submit failed", "task", kind, "err", err)
		return
	}
	if coalesced {
		s.log.Info("scheduled task already waiting", "task", kind, "run_id", task.ID)
		return
	}
	s.log.Info("scheduled task submitted", "task", kind, "run_id", task.ID)
}

// Entries returns the registered schedules with their next activation after now.
func (s *Scheduler) Entries(now time.Time) []Entry {
	out := make([]Entry, 0, len(s.schedule))
	for kind, sched := range s.schedule {
		out = append(out, Entry{Kind: kind, Spec: s.specs[kind], Next: sched.Next(now)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

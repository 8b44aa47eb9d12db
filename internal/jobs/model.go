package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRunNotFound is returned when no run exists for an id.
var ErrRunNotFound = errors.New("run not found")

// Kind selects the pipeline operation a task runs.
type Kind string

const (
	KindEnqueue Kind = "enqueue"
	KindPublish Kind = "publish"
	KindProduce Kind = "produce"
)

// Kinds lists every task kind.
var Kinds = []Kind{KindEnqueue, KindPublish, KindProduce}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

// Trigger records what submitted a task.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerHTTP     Trigger = "http"
	TriggerCLI      Trigger = "cli"
)

// Stage represents the lifecycle stage of a run.
type Stage string

const (
	StageQueued    Stage = "queued"
	StageRunning   Stage = "running"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// Task is one submitted pipeline operation.
type Task struct {
	ID      string // UUIDv4, also used as run_id in logs
	Kind    Kind
	Trigger Trigger
}

// Run is the persisted history entry of a task.
type Run struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	Trigger      Trigger    `json:"trigger"`
	Stage        Stage      `json:"stage"`
	Outcome      string     `json:"outcome,omitempty"` // pipeline outcome once finished
	ErrorMessage *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Store persists runs.
type Store interface {
	CreateRun(run *Run) error
	MarkRunning(id string, startedAt time.Time) error
	SaveResult(id, outcome string, completedAt time.Time) error
	SaveError(id, outcome, errMsg string, completedAt time.Time) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	Close() error
}

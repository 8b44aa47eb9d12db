// Package pipeline drives the progress record: it creates a publish container
// for the next uploaded segment, publishes the head of the queue once it is
// ready, and turns new source episodes into uploaded segments.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/jo-hoe/reelcaster/internal/blob"
	"github.com/jo-hoe/reelcaster/internal/common"
	"github.com/jo-hoe/reelcaster/internal/media"
	"github.com/jo-hoe/reelcaster/internal/progress"
	"github.com/jo-hoe/reelcaster/internal/publish"
)

// Outcome names what an invocation did.
type Outcome string

const (
	OutcomeEnqueued       Outcome = "enqueued"
	OutcomePending        Outcome = "pending"
	OutcomeNoSegment      Outcome = "no_segment"
	OutcomeIdle           Outcome = "idle"
	OutcomeWaiting        Outcome = "waiting"
	OutcomePublished      Outcome = "published"
	OutcomeRecreated      Outcome = "recreated"
	OutcomeRetry          Outcome = "retry"
	OutcomeFinalizeFailed Outcome = "finalize_failed"
	OutcomeProduced       Outcome = "produced"
	OutcomeNoSource       Outcome = "no_source"
	OutcomeFailed         Outcome = "failed"
)

// Result describes one invocation. Fields that do not apply stay zero.
type Result struct {
	Outcome     Outcome         `json:"outcome"`
	Part        int             `json:"part,omitempty"`
	FileID      string          `json:"fileId,omitempty"`
	ContainerID string          `json:"containerId,omitempty"`
	MediaID     string          `json:"mediaId,omitempty"`
	Status      string          `json:"status,omitempty"`
	Episode     int             `json:"episode,omitempty"`
	Segments    int             `json:"segments,omitempty"`
	Record      progress.Record `json:"record"`
}

// Publisher is the container lifecycle API.
type Publisher interface {
	CreateContainer(ctx context.Context, videoURL, caption string) (string, error)
	CheckStatus(ctx context.Context, containerID string) (publish.Status, error)
	Publish(ctx context.Context, containerID string) (string, error)
}

// Producer renders a source into numbered segments.
type Producer interface {
	Produce(ctx context.Context, source string, startPart int) ([]media.Segment, error)
}

var (
	_ Publisher = (*publish.Client)(nil)
	_ Producer  = (*media.Producer)(nil)
)

// Pipeline owns the operations on one stream's progress record. Operations
// are not meant to run concurrently with each other; callers serialize them
// through the job queue. Store writes are still guarded so a concurrent
// writer is detected instead of overwritten.
type Pipeline struct {
	Log       *slog.Logger
	Store     progress.Store
	Blob      blob.Store
	Publisher Publisher
	Producer  Producer

	Stream         string
	Captions       []string
	Extension      string
	UploadParallel int

	// pick returns a caption index in [0, n).
	pick func(n int) int
}

// Options holds the non-dependency settings of a Pipeline.
type Options struct {
	Stream         string
	Captions       []string
	Extension      string
	UploadParallel int
}

func New(log *slog.Logger, store progress.Store, bs blob.Store, pub Publisher, prod Producer, opts Options) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if opts.Extension == "" {
		opts.Extension = common.SegmentExtension
	}
	if opts.UploadParallel <= 0 {
		opts.UploadParallel = common.DefaultUploadParallel
	}
	return &Pipeline{
		Log:            log,
		Store:          store,
		Blob:           bs,
		Publisher:      pub,
		Producer:       prod,
		Stream:         opts.Stream,
		Captions:       opts.Captions,
		Extension:      opts.Extension,
		UploadParallel: opts.UploadParallel,
		pick:           rand.IntN,
	}
}

// Get returns the current record.
func (p *Pipeline) Get(ctx context.Context) (progress.Record, error) {
	rec, err := p.Store.Get(ctx, p.Stream)
	if err != nil {
		return progress.Record{}, fmt.Errorf("load progress: %w", err)
	}
	return rec, nil
}

func (p *Pipeline) caption() string {
	if len(p.Captions) == 0 {
		return ""
	}
	pick := p.pick
	if pick == nil {
		pick = rand.IntN
	}
	return p.Captions[pick(len(p.Captions))]
}

// createContainer links the remote file and asks the API for a new container.
func (p *Pipeline) createContainer(ctx context.Context, fileID string) (string, error) {
	link, err := p.Blob.FetchLink(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("fetch link for %s: %w", fileID, err)
	}
	id, err := p.Publisher.CreateContainer(ctx, link, p.caption())
	if err != nil {
		return "", fmt.Errorf("create container for %s: %w", fileID, err)
	}
	if id == "" {
		return "", fmt.Errorf("create container for %s: %w", fileID, publish.ErrEmptyContainerID)
	}
	return id, nil
}

// failure picks the outcome reported alongside an external call's err.
// Missing files, refused requests and empty container ids fail; transport
// errors, throttling and 5xx answers are retried on the next trigger.
func failure(err error) Outcome {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeRetry
	case errors.Is(err, blob.ErrNotFound), errors.Is(err, blob.ErrRejected), errors.Is(err, publish.ErrEmptyContainerID):
		return OutcomeFailed
	case publish.IsTransient(err):
		return OutcomeRetry
	default:
		return OutcomeFailed
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jo-hoe/reelcaster/internal/blob"
	"github.com/jo-hoe/reelcaster/internal/progress"
	"github.com/jo-hoe/reelcaster/internal/util"
)

// EnqueueNext creates a container for segment uploadCursor+1 and appends it
// to the publish queue. It does nothing while the queue still holds an
// unresolved head, so at most one container exists per segment.
func (p *Pipeline) EnqueueNext(ctx context.Context) (Result, error) {
	rec, err := p.Get(ctx)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	if head, ok := rec.Head(); ok {
		p.Log.Info("publish queue not empty, skipping container creation",
			"stream", p.Stream, "head_file", head.FileID, "head_container", head.ContainerID, "queued", len(rec.PendingPublish))
		return Result{Outcome: OutcomePending, Part: head.Part, FileID: head.FileID, ContainerID: head.ContainerID, Record: rec}, nil
	}

	target := rec.UploadCursor + 1
	name := util.SegmentName(target, p.Extension)
	files, err := p.Blob.List(ctx)
	if err != nil {
		return Result{Outcome: failure(err), Part: target, Record: rec}, fmt.Errorf("list remote files: %w", err)
	}
	file, ok := blob.FindByName(files, name)
	if !ok {
		p.Log.Info("no segment to enqueue", "stream", p.Stream, "want", name, "last_published", rec.UploadCursor)
		return Result{Outcome: OutcomeNoSegment, Part: target, Record: rec}, nil
	}

	containerID, err := p.createContainer(ctx, file.ID)
	if err != nil {
		return Result{Outcome: failure(err), Part: target, FileID: file.ID, Record: rec}, err
	}

	item := progress.PublishItem{FileID: file.ID, ContainerID: containerID, Part: target}
	updated, err := p.Store.Update(ctx, p.Stream, progress.Append(item, true))
	if err != nil {
		if errors.Is(err, progress.ErrConflict) {
			p.Log.Warn("queue changed while creating container, dropping it",
				"stream", p.Stream, "file", file.ID, "container", containerID, "err", err)
			return Result{Outcome: OutcomePending, Part: target, FileID: file.ID, Record: rec}, nil
		}
		return Result{Outcome: OutcomeFailed, Part: target, FileID: file.ID, ContainerID: containerID, Record: rec}, fmt.Errorf("save queued container: %w", err)
	}

	p.Log.Info("container created", "stream", p.Stream, "segment", name, "file", file.ID, "container", containerID)
	return Result{Outcome: OutcomeEnqueued, Part: target, FileID: file.ID, ContainerID: containerID, Record: updated}, nil
}

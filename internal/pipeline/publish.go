package pipeline

import (
	"context"
	"fmt"

	"github.com/jo-hoe/reelcaster/internal/progress"
	"github.com/jo-hoe/reelcaster/internal/publish"
)

// action is what PublishNext does with the head for a given container status.
type action int

const (
	actionFinalize action = iota // publish, then pop and count
	actionConfirm                // already published, pop and count
	actionWait
	actionRecreate
)

// transitions covers every ContainerStatus.
var transitions = map[publish.ContainerStatus]action{
	publish.StatusFinished:   actionFinalize,
	publish.StatusPublished:  actionConfirm,
	publish.StatusInProgress: actionWait,
	publish.StatusError:      actionRecreate,
	publish.StatusExpired:    actionRecreate,
	publish.StatusUnknown:    actionRecreate,
}

// PublishNext advances the head of the publish queue by one step.
func (p *Pipeline) PublishNext(ctx context.Context) (Result, error) {
	rec, err := p.Get(ctx)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	head, ok := rec.Head()
	if !ok {
		p.Log.Info("publish queue empty", "stream", p.Stream)
		return Result{Outcome: OutcomeIdle, Record: rec}, nil
	}
	res := Result{Part: head.Part, FileID: head.FileID, ContainerID: head.ContainerID, Record: rec}

	st, err := p.Publisher.CheckStatus(ctx, head.ContainerID)
	if err != nil {
		if publish.IsTransient(err) {
			p.Log.Warn("container status unavailable, will retry", "container", head.ContainerID, "err", err)
			res.Outcome = OutcomeRetry
			return res, fmt.Errorf("check container %s: %w", head.ContainerID, err)
		}
		p.Log.Warn("container rejected by api", "container", head.ContainerID, "err", err)
		return p.recreate(ctx, head, res, "rejected")
	}
	res.Status = st.Raw

	act, known := transitions[st.Code]
	if !known || st.Code == publish.StatusUnknown {
		p.Log.Warn("unrecognized container status", "container", head.ContainerID, "status", st.Raw)
		act = actionRecreate
	}

	switch act {
	case actionFinalize:
		mediaID, err := p.Publisher.Publish(ctx, head.ContainerID)
		if err != nil {
			p.Log.Error("publish failed", "container", head.ContainerID, "err", err)
			res.Outcome = OutcomeFinalizeFailed
			return res, fmt.Errorf("publish container %s: %w", head.ContainerID, err)
		}
		res.MediaID = mediaID
		return p.finalize(ctx, head, res)
	case actionConfirm:
		return p.finalize(ctx, head, res)
	case actionWait:
		p.Log.Info("container still processing", "container", head.ContainerID)
		res.Outcome = OutcomeWaiting
		return res, nil
	default:
		return p.recreate(ctx, head, res, st.Code.String())
	}
}

// finalize pops the head and counts it in one write, then deletes the remote file.
func (p *Pipeline) finalize(ctx context.Context, head progress.PublishItem, res Result) (Result, error) {
	updated, err := p.Store.Update(ctx, p.Stream,
		progress.PopHead(head.FileID),
		progress.Increment(progress.FieldUploadCursor, 1),
	)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("record published container %s: %w", head.ContainerID, err)
	}
	res.Outcome = OutcomePublished
	res.Record = updated

	if err := p.Blob.Delete(ctx, head.FileID); err != nil {
		p.Log.Warn("delete published file failed", "file", head.FileID, "err", err)
	}
	p.Log.Info("container published",
		"stream", p.Stream, "container", head.ContainerID, "media", res.MediaID, "upload_cursor", updated.UploadCursor)
	return res, nil
}

// recreate replaces the head's container with a fresh one for the same file.
func (p *Pipeline) recreate(ctx context.Context, head progress.PublishItem, res Result, reason string) (Result, error) {
	newID, err := p.createContainer(ctx, head.FileID)
	if err != nil {
		res.Outcome = failure(err)
		return res, fmt.Errorf("recreate container: %w", err)
	}
	updated, err := p.Store.Update(ctx, p.Stream, progress.ReplaceHead(head.FileID, newID))
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("save recreated container: %w", err)
	}
	p.Log.Warn("container recreated, not published",
		"stream", p.Stream, "file", head.FileID, "old_container", head.ContainerID, "new_container", newID, "reason", reason)
	res.Outcome = OutcomeRecreated
	res.ContainerID = newID
	res.Record = updated
	return res, nil
}

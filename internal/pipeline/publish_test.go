package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/jo-hoe/reelcaster/internal/blob"
	"github.com/jo-hoe/reelcaster/internal/progress"
	"github.com/jo-hoe/reelcaster/internal/publish"
)

func queuedRecord() progress.Record {
	return progress.Record{
		UploadCursor: 4,
		PendingPublish: []progress.PublishItem{
			{FileID: "f5", ContainerID: "c5", Part: 5},
			{FileID: "f6", ContainerID: "c6", Part: 6},
		},
	}
}

func queuedHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, queuedRecord())
	h.blob.files = []blob.File{{ID: "f5", Name: "part_5.mp4"}, {ID: "f6", Name: "part_6.mp4"}}
	return h
}

func TestPublishNext_IdleOnEmptyQueue(t *testing.T) {
	h := newHarness(t, progress.Record{UploadCursor: 3})
	res, err := h.p.PublishNext(context.Background())
	if err != nil || res.Outcome != OutcomeIdle {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
}

func TestPublishNext_FinishedPublishesPopsAndDeletes(t *testing.T) {
	h := queuedHarness(t)
	h.pub.statuses["c5"] = status(publish.StatusFinished, "FINISHED")

	res, err := h.p.PublishNext(context.Background())
	if err != nil {
		t.Fatalf("PublishNext: %v", err)
	}
	if res.Outcome != OutcomePublished || res.MediaID != "media-c5" {
		t.Fatalf("result = %+v", res)
	}
	rec := h.record(t)
	if rec.UploadCursor != 5 {
		t.Fatalf("uploadCursor = %d, want 5", rec.UploadCursor)
	}
	if len(rec.PendingPublish) != 1 || rec.PendingPublish[0].FileID != "f6" {
		t.Fatalf("queue = %+v", rec.PendingPublish)
	}
	if len(h.blob.deleted) != 1 || h.blob.deleted[0] != "f5" {
		t.Fatalf("deleted = %v", h.blob.deleted)
	}
	if len(h.pub.published) != 1 || h.pub.published[0] != "c5" {
		t.Fatalf("published = %v", h.pub.published)
	}
}

func TestPublishNext_AlreadyPublishedIsFinalizedWithoutPublishing(t *testing.T) {
	h := queuedHarness(t)
	h.pub.statuses["c5"] = status(publish.StatusPublished, "PUBLISHED")

	res, err := h.p.PublishNext(context.Background())
	if err != nil || res.Outcome != OutcomePublished {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if len(h.pub.published) != 0 {
		t.Fatalf("publish must not be called again")
	}
	if rec := h.record(t); rec.UploadCursor != 5 || len(rec.PendingPublish) != 1 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestPublishNext_FinalizeFailureChangesNothing(t *testing.T) {
	h := queuedHarness(t)
	h.pub.statuses["c5"] = status(publish.StatusFinished, "FINISHED")
	h.pub.publishErr = &publish.APIError{Op: "publish", StatusCode: 400, Message: "media not ready"}

	res, err := h.p.PublishNext(context.Background())
	if err == nil || res.Outcome != OutcomeFinalizeFailed {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	rec := h.record(t)
	if rec.UploadCursor != 4 || len(rec.PendingPublish) != 2 || rec.Version != 1 {
		t.Fatalf("record changed: %+v", rec)
	}
	if len(h.blob.deleted) != 0 {
		t.Fatalf("file deleted without a publish")
	}
}

func TestPublishNext_InProgressWaits(t *testing.T) {
	h := queuedHarness(t)
	h.pub.statuses["c5"] = status(publish.StatusInProgress, "IN_PROGRESS")

	res, err := h.p.PublishNext(context.Background())
	if err != nil || res.Outcome != OutcomeWaiting || res.Status != "IN_PROGRESS" {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if rec := h.record(t); rec.Version != 1 {
		t.Fatalf("record written while waiting")
	}
}

func TestPublishNext_BadStatusesRecreateHeadInPlace(t *testing.T) {
	cases := []publish.Status{
		status(publish.StatusError, "ERROR"),
		status(publish.StatusExpired, "EXPIRED"),
		status(publish.StatusUnknown, "SOMETHING_NEW"),
	}
	for _, st := range cases {
		t.Run(st.Raw, func(t *testing.T) {
			h := queuedHarness(t)
			h.pub.statuses["c5"] = st
			h.pub.nextIDs = []string{"c5-new"}

			res, err := h.p.PublishNext(context.Background())
			if err != nil {
				t.Fatalf("PublishNext: %v", err)
			}
			if res.Outcome != OutcomeRecreated || res.ContainerID != "c5-new" {
				t.Fatalf("result = %+v", res)
			}
			rec := h.record(t)
			if rec.UploadCursor != 4 {
				t.Fatalf("uploadCursor changed on recreate: %d", rec.UploadCursor)
			}
			if len(rec.PendingPublish) != 2 {
				t.Fatalf("queue length changed: %+v", rec.PendingPublish)
			}
			head := rec.PendingPublish[0]
			if head.FileID != "f5" || head.ContainerID != "c5-new" || head.Part != 5 {
				t.Fatalf("head = %+v", head)
			}
			if rec.PendingPublish[1].ContainerID != "c6" {
				t.Fatalf("second item touched: %+v", rec.PendingPublish[1])
			}
			if len(h.pub.creates) != 1 || h.pub.creates[0].videoURL != "https://blob.example.com/f5" {
				t.Fatalf("creates = %+v", h.pub.creates)
			}
			if len(h.blob.deleted) != 0 {
				t.Fatalf("file deleted on recreate")
			}
		})
	}
}

func TestPublishNext_TransientStatusErrorRetriesWithoutChange(t *testing.T) {
	cases := []error{
		errors.New("dial tcp: connection refused"),
		&publish.APIError{Op: "check status", StatusCode: 429, Message: "slow down"},
		&publish.APIError{Op: "check status", StatusCode: 502, Message: "bad gateway"},
	}
	for _, statusErr := range cases {
		t.Run(statusErr.Error(), func(t *testing.T) {
			h := queuedHarness(t)
			h.pub.statusErr = statusErr

			res, err := h.p.PublishNext(context.Background())
			if err == nil || res.Outcome != OutcomeRetry {
				t.Fatalf("result = %+v, err = %v", res, err)
			}
			if len(h.pub.creates) != 0 {
				t.Fatalf("transient failure must not recreate")
			}
			if rec := h.record(t); rec.Version != 1 {
				t.Fatalf("record written on transient failure")
			}
		})
	}
}

func TestPublishNext_ConfirmedBadAnswerRecreates(t *testing.T) {
	h := queuedHarness(t)
	h.pub.statusErr = &publish.APIError{Op: "check status", StatusCode: 400, Code: 100, Message: "Unsupported get request"}
	h.pub.nextIDs = []string{"c5-new"}

	res, err := h.p.PublishNext(context.Background())
	if err != nil || res.Outcome != OutcomeRecreated {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if rec := h.record(t); rec.PendingPublish[0].ContainerID != "c5-new" {
		t.Fatalf("head = %+v", rec.PendingPublish[0])
	}
}

func TestPublishNext_RecreateFailureKeepsOldContainer(t *testing.T) {
	h := queuedHarness(t)
	h.pub.statuses["c5"] = status(publish.StatusExpired, "EXPIRED")
	// no ids queued, so creation returns an empty id

	res, err := h.p.PublishNext(context.Background())
	if !errors.Is(err, publish.ErrEmptyContainerID) || res.Outcome != OutcomeFailed {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if rec := h.record(t); rec.PendingPublish[0].ContainerID != "c5" {
		t.Fatalf("head replaced with an empty container: %+v", rec.PendingPublish[0])
	}
}

func TestPublishNext_DeleteFailureStillPublished(t *testing.T) {
	h := queuedHarness(t)
	h.pub.statuses["c5"] = status(publish.StatusFinished, "FINISHED")
	h.blob.deleteErr = errors.New("drive down")

	res, err := h.p.PublishNext(context.Background())
	if err != nil || res.Outcome != OutcomePublished {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if rec := h.record(t); rec.UploadCursor != 5 {
		t.Fatalf("uploadCursor = %d", rec.UploadCursor)
	}
}

func TestPublishNext_RepeatedRunsPopOnce(t *testing.T) {
	h := newHarness(t, progress.Record{
		UploadCursor:   4,
		PendingPublish: []progress.PublishItem{{FileID: "f5", ContainerID: "c5", Part: 5}},
	})
	h.blob.files = []blob.File{{ID: "f5", Name: "part_5.mp4"}}
	h.pub.statuses["c5"] = status(publish.StatusFinished, "FINISHED")

	for i := 0; i < 3; i++ {
		if _, err := h.p.PublishNext(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	rec := h.record(t)
	if rec.UploadCursor != 5 || len(rec.PendingPublish) != 0 {
		t.Fatalf("record = %+v", rec)
	}
	if len(h.pub.published) != 1 {
		t.Fatalf("published %d times", len(h.pub.published))
	}
}

func TestFinalize_HeadChangedIsConflict(t *testing.T) {
	h := queuedHarness(t)
	_, err := h.p.finalize(context.Background(), progress.PublishItem{FileID: "f6", ContainerID: "c6"}, Result{})
	if !errors.Is(err, progress.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if rec := h.record(t); rec.UploadCursor != 4 || len(rec.PendingPublish) != 2 {
		t.Fatalf("record changed: %+v", rec)
	}
}

func TestTransitions_CoverEveryStatus(t *testing.T) {
	for code := publish.StatusUnknown; code <= publish.StatusExpired; code++ {
		if _, ok := transitions[code]; !ok {
			t.Fatalf("no transition for %s", code)
		}
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"testing"

	"github.com/jo-hoe/reelcaster/internal/blob"
	"github.com/jo-hoe/reelcaster/internal/common"
	"github.com/jo-hoe/reelcaster/internal/progress"
	"github.com/jo-hoe/reelcaster/internal/publish"
)

func TestProduce_UploadsSegmentsAndAdvancesCursors(t *testing.T) {
	h := newHarness(t, progress.Record{
		Sources:       []string{"https://youtu.be/ep1", "https://youtu.be/ep2"},
		EpisodeCursor: 1,
		ReelCursor:    12,
	})

	res, err := h.p.Produce(context.Background())
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if res.Outcome != OutcomeProduced || res.Episode != 2 || res.Segments != 3 {
		t.Fatalf("result = %+v", res)
	}
	if h.prod.calls[0] != "https://youtu.be/ep2" || h.prod.starts[0] != 13 {
		t.Fatalf("producer called with %v %v", h.prod.calls, h.prod.starts)
	}
	uploaded := append([]string(nil), h.blob.uploaded...)
	slices.Sort(uploaded)
	want := []string{"part_13.mp4", "part_14.mp4", "part_15.mp4"}
	if !slices.Equal(uploaded, want) {
		t.Fatalf("uploaded = %v, want %v", uploaded, want)
	}
	entries, _ := os.ReadDir(h.prod.dir)
	if len(entries) != 0 {
		t.Fatalf("local segments must be removed after upload, %d left", len(entries))
	}
	rec := h.record(t)
	if rec.EpisodeCursor != 2 || rec.ReelCursor != 15 || rec.UploadCursor != 0 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProduce_NoSourceLeft(t *testing.T) {
	h := newHarness(t, progress.Record{Sources: []string{"https://youtu.be/ep1"}, EpisodeCursor: 1})
	res, err := h.p.Produce(context.Background())
	if err != nil || res.Outcome != OutcomeNoSource {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if len(h.prod.calls) != 0 {
		t.Fatalf("producer must not run")
	}
}

func TestProduce_UploadFailureKeepsCursors(t *testing.T) {
	h := newHarness(t, progress.Record{Sources: []string{"https://youtu.be/ep1"}})
	h.blob.uploadErr = map[string]error{"part_2.mp4": fmt.Errorf("storage quota exceeded: %w", blob.ErrRejected)}

	res, err := h.p.Produce(context.Background())
	if err == nil || res.Outcome != OutcomeFailed {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if rec := h.record(t); rec.EpisodeCursor != 0 || rec.ReelCursor != 0 {
		t.Fatalf("cursors moved after failed upload: %+v", rec)
	}
	if entries, _ := os.ReadDir(h.prod.dir); len(entries) != 0 {
		t.Fatalf("rendered segments must be removed after a failed upload, %d left", len(entries))
	}
}

func TestProduce_TransientUploadFailureRetries(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fakeBlob)
	}{
		{"upload connection reset", func(f *fakeBlob) {
			f.uploadErr = map[string]error{"part_3.mp4": &url.Error{
				Op:  "Post",
				URL: "https://www.googleapis.com/upload/drive/v3/files",
				Err: errors.New("connection reset by peer"),
			}}
		}},
		{"list timeout", func(f *fakeBlob) {
			f.listErr = errors.New("dial tcp: i/o timeout")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, progress.Record{Sources: []string{"https://youtu.be/ep1"}})
			tc.setup(h.blob)

			res, err := h.p.Produce(context.Background())
			if err == nil || res.Outcome != OutcomeRetry {
				t.Fatalf("result = %+v, err = %v", res, err)
			}
			if rec := h.record(t); rec.Version != 1 {
				t.Fatalf("record written after failed upload: %+v", rec)
			}
			if entries, _ := os.ReadDir(h.prod.dir); len(entries) != 0 {
				t.Fatalf("rendered segments left behind: %d", len(entries))
			}
		})
	}
}

func TestProduce_MimeTypeFollowsRenderedContainer(t *testing.T) {
	h := newHarness(t, progress.Record{Sources: []string{"https://youtu.be/ep1"}})
	h.p.Extension = ".mov"
	h.prod.ext = ".mov"
	h.prod.segments = 1

	res, err := h.p.Produce(context.Background())
	if err != nil || res.Outcome != OutcomeProduced {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if got := h.blob.mimeTypes["part_1.mov"]; got != common.MimeVideoQuickTime {
		t.Fatalf("mime type = %q, uploaded = %v", got, h.blob.uploaded)
	}
}

func TestProduce_RerunSkipsUploadedSegments(t *testing.T) {
	h := newHarness(t, progress.Record{Sources: []string{"https://youtu.be/ep1"}})
	h.blob.files = []blob.File{{ID: "old-1", Name: "part_1.mp4"}, {ID: "old-2", Name: "part_2.mp4"}}

	res, err := h.p.Produce(context.Background())
	if err != nil || res.Outcome != OutcomeProduced {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if !slices.Equal(h.blob.uploaded, []string{"part_3.mp4"}) {
		t.Fatalf("uploaded = %v", h.blob.uploaded)
	}
	if rec := h.record(t); rec.ReelCursor != 3 || rec.EpisodeCursor != 1 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProduce_ProducerFailure(t *testing.T) {
	h := newHarness(t, progress.Record{Sources: []string{"https://youtu.be/ep1"}})
	h.prod.err = errors.New("yt-dlp failed")
	res, err := h.p.Produce(context.Background())
	if err == nil || res.Outcome != OutcomeFailed {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if rec := h.record(t); rec.Version != 1 {
		t.Fatalf("record written after producer failure")
	}
}

// A produced episode flows through enqueue and publish one segment at a time.
func TestPipeline_FullCycle(t *testing.T) {
	h := newHarness(t, progress.Record{Sources: []string{"https://youtu.be/ep1"}})
	h.prod.segments = 2
	h.pub.nextIDs = []string{"c1", "c2"}
	ctx := context.Background()

	if res, err := h.p.Produce(ctx); err != nil || res.Outcome != OutcomeProduced {
		t.Fatalf("produce: %+v %v", res, err)
	}

	for part := 1; part <= 2; part++ {
		res, err := h.p.EnqueueNext(ctx)
		if err != nil || res.Outcome != OutcomeEnqueued || res.Part != part {
			t.Fatalf("enqueue part %d: %+v %v", part, res, err)
		}
		if res, _ := h.p.EnqueueNext(ctx); res.Outcome != OutcomePending {
			t.Fatalf("second enqueue for part %d: %+v", part, res)
		}

		h.pub.statuses[res.ContainerID] = status(publish.StatusInProgress, "IN_PROGRESS")
		if res, _ := h.p.PublishNext(ctx); res.Outcome != OutcomeWaiting {
			t.Fatalf("publish while processing: %+v", res)
		}
		h.pub.statuses[res.ContainerID] = status(publish.StatusFinished, "FINISHED")
		if res, err := h.p.PublishNext(ctx); err != nil || res.Outcome != OutcomePublished {
			t.Fatalf("publish part %d: %+v %v", part, res, err)
		}
	}

	if res, _ := h.p.EnqueueNext(ctx); res.Outcome != OutcomeNoSegment || res.Part != 3 {
		t.Fatalf("after last part: %+v", res)
	}
	if res, _ := h.p.PublishNext(ctx); res.Outcome != OutcomeIdle {
		t.Fatalf("publish after last part: %+v", res)
	}
	rec := h.record(t)
	if rec.UploadCursor != 2 || rec.ReelCursor != 2 || rec.EpisodeCursor != 1 {
		t.Fatalf("record = %+v", rec)
	}
	if len(h.blob.files) != 0 {
		t.Fatalf("published files must be deleted: %+v", h.blob.files)
	}
}

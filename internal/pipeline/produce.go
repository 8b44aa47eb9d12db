package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/jo-hoe/reelcaster/internal/blob"
	"github.com/jo-hoe/reelcaster/internal/common"
	"github.com/jo-hoe/reelcaster/internal/media"
	"github.com/jo-hoe/reelcaster/internal/progress"
	"github.com/jo-hoe/reelcaster/internal/util"
)

// Produce renders the next source episode into segments numbered after
// reelCursor, uploads them and advances both cursors in one write.
// Segments already present remotely under the same name are not uploaded
// again, so a rerun after a partial failure picks up where it stopped.
func (p *Pipeline) Produce(ctx context.Context) (Result, error) {
	rec, err := p.Get(ctx)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	episode := rec.EpisodeCursor + 1
	source, ok := rec.NextSource()
	if !ok {
		p.Log.Info("no source left to produce", "stream", p.Stream, "episode", episode, "sources", len(rec.Sources))
		return Result{Outcome: OutcomeNoSource, Episode: episode, Record: rec}, nil
	}
	res := Result{Episode: episode, Part: rec.ReelCursor + 1, Record: rec}

	segs, err := p.Producer.Produce(ctx, source, rec.ReelCursor+1)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("produce episode %d: %w", episode, err)
	}
	if len(segs) == 0 {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("produce episode %d: no segments", episode)
	}

	if err := p.upload(ctx, segs); err != nil {
		// the next run renders the episode again
		for _, seg := range segs {
			p.removeLocal(seg.Path)
		}
		res.Outcome = failure(err)
		return res, fmt.Errorf("upload episode %d: %w", episode, err)
	}

	updated, err := p.Store.Update(ctx, p.Stream,
		progress.Expect(progress.FieldEpisodeCursor, rec.EpisodeCursor),
		progress.Expect(progress.FieldReelCursor, rec.ReelCursor),
		progress.Increment(progress.FieldEpisodeCursor, 1),
		progress.Increment(progress.FieldReelCursor, len(segs)),
	)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("record episode %d: %w", episode, err)
	}
	p.Log.Info("episode produced",
		"stream", p.Stream, "episode", episode, "segments", len(segs), "reel_cursor", updated.ReelCursor)
	res.Outcome = OutcomeProduced
	res.Segments = len(segs)
	res.Record = updated
	return res, nil
}

func (p *Pipeline) upload(ctx context.Context, segs []media.Segment) error {
	existing, err := p.Blob.List(ctx)
	if err != nil {
		return fmt.Errorf("list remote files: %w", err)
	}

	var total atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.UploadParallel)
	for _, seg := range segs {
		name := util.SegmentName(seg.Part, p.Extension)
		if f, ok := blob.FindByName(existing, name); ok {
			p.Log.Info("segment already uploaded", "segment", name, "file", f.ID)
			p.removeLocal(seg.Path)
			continue
		}
		g.Go(func() error {
			f, err := p.Blob.Upload(gctx, seg.Path, common.SegmentMimeType(strings.ToLower(filepath.Ext(seg.Path))), name)
			if err != nil {
				return fmt.Errorf("upload %s: %w", name, err)
			}
			total.Add(uint64(max(f.Size, 0)))
			p.Log.Info("segment uploaded", "segment", name, "file", f.ID, "size", humanize.Bytes(uint64(max(f.Size, 0))))
			p.removeLocal(seg.Path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.Log.Debug("upload finished", "segments", len(segs), "total", humanize.Bytes(total.Load()))
	return nil
}

func (p *Pipeline) removeLocal(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.Log.Warn("remove local segment failed", "path", path, "err", err)
	}
}

// Package media downloads source videos and renders them into numbered reel segments.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/reelcaster/internal/common"
	"github.com/jo-hoe/reelcaster/internal/config"
	"github.com/jo-hoe/reelcaster/internal/util"
)

// Runner executes an external tool and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, truncate(strings.TrimSpace(stderr.String()), 400))
	}
	return stdout.Bytes(), nil
}

// Producer turns one source into rendered segment files.
type Producer struct {
	cfg       config.ProducerConfig
	Runner    Runner
	Logger    *slog.Logger
	Extension string // segment container, ffmpeg picks the muxer from it
}

// New returns a producer using ExecRunner.
func New(cfg config.ProducerConfig, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{cfg: cfg, Runner: ExecRunner{}, Logger: logger, Extension: common.SegmentExtension}
}

// Produce downloads source, plans its parts starting at startPart and renders
// each to workDir/segments/part_N with the producer's extension. Downloaded
// sources are removed afterwards; local sources are left alone.
func (p *Producer) Produce(ctx context.Context, source string, startPart int) ([]Segment, error) {
	srcDir := filepath.Join(p.cfg.WorkDir, common.SourcesDirName)
	segDir := filepath.Join(p.cfg.WorkDir, common.SegmentsDirName)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure segments dir: %w", err)
	}

	input, err := p.Download(ctx, source, srcDir, "source_"+util.NewID())
	if err != nil {
		return nil, err
	}
	if _, isLocal := localSource(source); !isLocal {
		defer func() {
			if err := os.Remove(input); err != nil && !errors.Is(err, os.ErrNotExist) {
				p.Logger.Warn("remove downloaded source failed", "path", input, "err", err)
			}
		}()
	}

	info, err := p.Probe(ctx, input)
	if err != nil {
		return nil, err
	}
	plan := Plan(info.Duration, p.cfg.StartSkip, p.cfg.EndSkip, p.cfg.PartDuration, startPart)
	if len(plan) == 0 {
		return nil, fmt.Errorf("source %s too short: %s", source, info.Duration)
	}
	p.Logger.Info("rendering segments", "source", source, "duration", info.Duration, "parts", len(plan), "first_part", startPart)

	out := make([]Segment, 0, len(plan))
	for _, seg := range plan {
		seg.Path = filepath.Join(segDir, util.SegmentName(seg.Part, p.Extension))
		if _, err := p.run(ctx, p.cfg.FFmpegBinary, p.renderArgs(input, seg, seg.Path, info.HasAudio)...); err != nil {
			cleanup(out)
			return nil, fmt.Errorf("render part %d: %w", seg.Part, err)
		}
		out = append(out, seg)
	}
	return out, nil
}

func (p *Producer) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	p.Logger.Debug("exec", "cmd", name, "args", strings.Join(args, " "))
	return p.Runner.Run(ctx, name, args...)
}

// cleanup removes rendered files of a failed run.
func cleanup(segs []Segment) {
	for _, s := range segs {
		_ = os.Remove(s.Path)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

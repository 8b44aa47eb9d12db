package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Info is the subset of ffprobe output the producer needs.
type Info struct {
	Duration time.Duration
	HasAudio bool
	Width    int
	Height   int
}

type probeResult struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects path with ffprobe.
func (p *Producer) Probe(ctx context.Context, path string) (Info, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Info{}, errors.New("ffprobe inspect: empty path")
	}
	out, err := p.run(ctx, p.cfg.FFprobeBinary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (Info, error) {
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return Info{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(res.Format.Duration), 64)
	if err != nil || math.IsNaN(secs) || secs <= 0 {
		return Info{}, fmt.Errorf("ffprobe: invalid duration %q", res.Format.Duration)
	}
	info := Info{Duration: time.Duration(secs * float64(time.Second))}
	for _, s := range res.Streams {
		switch strings.ToLower(s.CodecType) {
		case "audio":
			info.HasAudio = true
		case "video":
			if info.Width == 0 {
				info.Width, info.Height = s.Width, s.Height
			}
		}
	}
	return info, nil
}

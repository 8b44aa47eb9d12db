package media

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// renderArgs builds the ffmpeg invocation for one segment: the source window
// is cut, a black caption band reading "PART n" is stacked above the video,
// and audio is amplified.
func (p *Producer) renderArgs(input string, seg Segment, output string, hasAudio bool) []string {
	band := p.cfg.FontSize * 2
	video := fmt.Sprintf("[0:v]pad=iw:ih+%d:0:%d:color=black,drawtext=%s[v]", band, band, p.drawtext(seg.Part, band))

	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", seconds(seg.Start),
		"-t", seconds(seg.Duration),
		"-i", input,
	}
	filter := video
	if hasAudio {
		filter += fmt.Sprintf(";[0:a]volume=%s[a]", strconv.FormatFloat(p.cfg.Volume, 'f', -1, 64))
	}
	args = append(args, "-filter_complex", filter, "-map", "[v]")
	if hasAudio {
		args = append(args, "-map", "[a]", "-c:a", "aac")
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(p.cfg.FPS),
		"-movflags", "+faststart",
		output,
	)
	return args
}

func (p *Producer) drawtext(part, band int) string {
	opts := []string{
		fmt.Sprintf("text='PART %d'", part),
		"fontcolor=white",
		fmt.Sprintf("fontsize=%d", p.cfg.FontSize),
		"x=(w-text_w)/2",
		fmt.Sprintf("y=(%d-text_h)/2", band),
	}
	if font := strings.TrimSpace(p.cfg.Font); font != "" {
		if isFontFile(font) {
			opts = append(opts, "fontfile='"+escapeFilterPath(font)+"'")
		} else {
			opts = append(opts, "font='"+font+"'")
		}
	}
	return strings.Join(opts, ":")
}

func isFontFile(font string) bool {
	ext := strings.ToLower(filepath.Ext(font))
	return ext == ".ttf" || ext == ".otf" || ext == ".ttc" || strings.ContainsAny(font, `/\`)
}

func escapeFilterPath(p string) string {
	p = filepath.ToSlash(p)
	return strings.ReplaceAll(p, ":", `\:`)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

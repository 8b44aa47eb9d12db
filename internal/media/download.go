package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Download fetches source into dir as name.<ext> with yt-dlp and returns the
// file path. Local paths and file:// URLs are returned as they are.
func (p *Producer) Download(ctx context.Context, source, dir, name string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", errors.New("source is required")
	}
	if local, ok := localSource(source); ok {
		if _, err := os.Stat(local); err != nil {
			return "", fmt.Errorf("local source: %w", err)
		}
		return local, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure download dir: %w", err)
	}
	out, err := p.run(ctx, p.cfg.YTDLPBinary, downloadArgs(p.cfg.Format, dir, name, source)...)
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}
	path := lastLine(string(out))
	if path == "" {
		return "", errors.New("yt-dlp returned no output path")
	}
	return path, nil
}

func downloadArgs(format, dir, name, source string) []string {
	args := []string{
		"--no-playlist",
		"--newline",
		"--no-progress",
		"--restrict-filenames",
		"--no-simulate",
		"--print", "after_move:filepath",
		"-P", dir,
		"-o", name + ".%(ext)s",
	}
	if strings.TrimSpace(format) != "" {
		args = append(args, "-f", format)
	}
	return append(args, "--", source)
}

func localSource(source string) (string, bool) {
	if u, err := url.Parse(source); err == nil && u.Scheme == "file" {
		return filepath.FromSlash(u.Path), true
	}
	if strings.Contains(source, "://") {
		return "", false
	}
	return source, true
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

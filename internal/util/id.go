package util

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jo-hoe/reelcaster/internal/common"
)

// NewID returns a random UUIDv4 string.
func NewID() string {
	return uuid.NewString()
}

// SegmentName returns the remote file name for segment n, e.g. "part_5.mp4".
func SegmentName(n int, ext string) string {
	if ext == "" {
		ext = common.SegmentExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%s%d%s", common.SegmentPrefix, n, ext)
}

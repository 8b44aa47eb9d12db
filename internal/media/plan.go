package media

import "time"

// minTail is the shortest trailing remainder still rendered as its own part.
const minTail = time.Second

// Segment is one timed part of a source video.
type Segment struct {
	Part     int           `json:"part"`
	Start    time.Duration `json:"start"`
	Duration time.Duration `json:"duration"`
	Path     string        `json:"path,omitempty"`
}

// Plan cuts [startSkip, total-endSkip) into parts of partLen numbered from
// startPart. The last part is shorter when the window does not divide evenly.
func Plan(total, startSkip, endSkip, partLen time.Duration, startPart int) []Segment {
	if partLen <= 0 {
		return nil
	}
	end := total - endSkip
	if end <= startSkip {
		return nil
	}
	var out []Segment
	for start := startSkip; start < end; start += partLen {
		d := min(partLen, end-start)
		if d < minTail && len(out) > 0 {
			break
		}
		out = append(out, Segment{Part: startPart + len(out), Start: start, Duration: d})
	}
	return out
}

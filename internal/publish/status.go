package publish

import "strings"

// ContainerStatus is the lifecycle state of a publish container.
type ContainerStatus int

const (
	// StatusUnknown covers any status string the API returns that is not listed below.
	StatusUnknown ContainerStatus = iota
	StatusInProgress
	StatusFinished
	StatusPublished
	StatusError
	StatusExpired
)

var statusNames = map[ContainerStatus]string{
	StatusUnknown:    "UNKNOWN",
	StatusInProgress: "IN_PROGRESS",
	StatusFinished:   "FINISHED",
	StatusPublished:  "PUBLISHED",
	StatusError:      "ERROR",
	StatusExpired:    "EXPIRED",
}

func (s ContainerStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return statusNames[StatusUnknown]
}

// ParseStatus maps an API status_code to a ContainerStatus.
func ParseStatus(raw string) ContainerStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IN_PROGRESS":
		return StatusInProgress
	case "FINISHED":
		return StatusFinished
	case "PUBLISHED":
		return StatusPublished
	case "ERROR":
		return StatusError
	case "EXPIRED":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

// Status is a parsed container status together with the string the API sent.
type Status struct {
	Code ContainerStatus
	Raw  string
}

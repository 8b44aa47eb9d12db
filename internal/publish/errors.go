package publish

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyContainerID is returned when a create call succeeds without an id.
var ErrEmptyContainerID = errors.New("api returned empty container id")

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	Op         string
	StatusCode int
	Code       int    // error.code from the body, 0 when absent
	Message    string // error.message or a truncated body
	Retryable  bool   // error.is_transient from the body
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("graph %s: status %d (code %d): %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Graph error codes for application and user level throttling.
var throttleCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

// IsTransient reports whether err is worth retrying later without changing
// state. Transport failures, timeouts, throttling and 5xx answers are
// transient. Other API answers and empty ids are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyContainerID) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Retryable || throttleCodes[apiErr.Code] {
			return true
		}
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

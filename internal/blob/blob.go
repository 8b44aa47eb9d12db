// Package blob defines the remote storage holding produced segments until they are published.
package blob

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNotFound is returned when a remote file does not exist.
	ErrNotFound = errors.New("remote file not found")
	// ErrRejected is returned when the store refuses a request and retrying will not help.
	ErrRejected = errors.New("remote store rejected request")
)

// Rejected reports whether an HTTP status is a refusal worth failing on:
// any 4xx except 404, which maps to ErrNotFound, and 408 and 429.
func Rejected(status int) bool {
	switch status {
	case http.StatusNotFound, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

// File describes a stored segment.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Store uploads, lists, links and deletes remote segment files.
type Store interface {
	// Upload stores the local file at path under name and returns its remote handle.
	Upload(ctx context.Context, path, mimeType, name string) (File, error)
	// List returns every file known to the store.
	List(ctx context.Context) ([]File, error)
	// FetchLink returns a time-limited URL the publishing API can download the file from.
	// Backends may have to adjust the file's access permission to do so.
	FetchLink(ctx context.Context, id string) (string, error)
	// Delete removes the file.
	Delete(ctx context.Context, id string) error
}

// FindByName returns the first file named name.
func FindByName(files []File, name string) (File, bool) {
	for _, f := range files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

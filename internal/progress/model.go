// Package progress persists the pipeline's progress record: episode, reel and
// upload cursors plus the FIFO queue of containers waiting to be published.
package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// PublishItem is one uploaded segment waiting for its container to be published.
type PublishItem struct {
	FileID      string    `json:"file_id"`  // remote blob id, deleted once published
	ContainerID string    `json:"insta_id"` // publish container id, may be replaced on recovery
	Part        int       `json:"part,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// Record is the single progress document of a content stream.
type Record struct {
	Stream         string        `json:"stream"`
	Sources        []string      `json:"sources"`
	EpisodeCursor  int           `json:"episodeCursor"`
	ReelCursor     int           `json:"reelCursor"`
	UploadCursor   int           `json:"uploadCursor"`
	PendingPublish []PublishItem `json:"pendingPublish"`
	UpdatedAt      time.Time     `json:"updatedAt,omitzero"`

	// Version is bumped by every write and used for optimistic concurrency.
	Version int64 `json:"-"`
}

// DecodeRecord parses a single JSON record. Unknown fields and trailing
// data are errors, so a misspelled cursor cannot silently reset to zero.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Record{}, errors.New("unexpected data after record")
	}
	return rec, nil
}

// Head returns the only item eligible for status checks and publishing.
func (r Record) Head() (PublishItem, bool) {
	if len(r.PendingPublish) == 0 {
		return PublishItem{}, false
	}
	return r.PendingPublish[0], true
}

// NextSource returns the locator of the episode after EpisodeCursor.
func (r Record) NextSource() (string, bool) {
	idx := r.EpisodeCursor // episodes are 1-based, so episode N lives at N-1
	if idx < 0 || idx >= len(r.Sources) {
		return "", false
	}
	return r.Sources[idx], true
}

// Clone returns a deep copy so ops can be applied without touching the original.
func (r Record) Clone() Record {
	out := r
	out.Sources = append([]string(nil), r.Sources...)
	out.PendingPublish = append([]PublishItem(nil), r.PendingPublish...)
	return out
}

func (r *Record) normalize() {
	if r.Sources == nil {
		r.Sources = []string{}
	}
	if r.PendingPublish == nil {
		r.PendingPublish = []PublishItem{}
	}
}

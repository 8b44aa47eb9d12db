package progress

import (
	"fmt"
	"time"
)

// Field names a cursor.
type Field string

const (
	FieldEpisodeCursor Field = "episodeCursor"
	FieldReelCursor    Field = "reelCursor"
	FieldUploadCursor  Field = "uploadCursor"
)

// Op is a partial update applied to a record inside Store.Update.
// An op whose precondition does not hold returns an error wrapping ErrConflict.
type Op interface {
	Apply(r *Record) error
	String() string
}

// ApplyOps applies ops in order to a copy of r and only replaces r when all succeed.
func ApplyOps(r *Record, ops ...Op) error {
	next := r.Clone()
	for _, op := range ops {
		if err := op.Apply(&next); err != nil {
			return fmt.Errorf("apply %s: %w", op, err)
		}
	}
	*r = next
	return nil
}

type incrementOp struct {
	field Field
	delta int
}

// Increment adds delta to a cursor.
func Increment(field Field, delta int) Op { return incrementOp{field: field, delta: delta} }

func (o incrementOp) Apply(r *Record) error {
	c, err := cursor(r, o.field)
	if err != nil {
		return err
	}
	*c += o.delta
	return nil
}

func (o incrementOp) String() string { return fmt.Sprintf("inc(%s,%+d)", o.field, o.delta) }

type expectOp struct {
	field Field
	value int
}

// Expect fails with ErrConflict unless the cursor still holds value.
func Expect(field Field, value int) Op { return expectOp{field: field, value: value} }

func (o expectOp) Apply(r *Record) error {
	c, err := cursor(r, o.field)
	if err != nil {
		return err
	}
	if *c != o.value {
		return fmt.Errorf("%s is %d, expected %d: %w", o.field, *c, o.value, ErrConflict)
	}
	return nil
}

func (o expectOp) String() string { return fmt.Sprintf("expect(%s=%d)", o.field, o.value) }

func cursor(r *Record, field Field) (*int, error) {
	switch field {
	case FieldEpisodeCursor:
		return &r.EpisodeCursor, nil
	case FieldReelCursor:
		return &r.ReelCursor, nil
	case FieldUploadCursor:
		return &r.UploadCursor, nil
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}
}

type popHeadOp struct {
	fileID string
}

// PopHead removes the head item, but only while it still refers to fileID.
func PopHead(fileID string) Op { return popHeadOp{fileID: fileID} }

func (o popHeadOp) Apply(r *Record) error {
	head, ok := r.Head()
	if !ok {
		return fmt.Errorf("queue is empty: %w", ErrConflict)
	}
	if head.FileID != o.fileID {
		return fmt.Errorf("head is %q, not %q: %w", head.FileID, o.fileID, ErrConflict)
	}
	r.PendingPublish = r.PendingPublish[1:]
	return nil
}

func (o popHeadOp) String() string { return fmt.Sprintf("pop(%s)", o.fileID) }

type appendOp struct {
	item         PublishItem
	requireEmpty bool
}

// Append adds item to the tail of the queue. With requireEmpty the op fails
// unless the queue is empty, so a second container is never queued behind an
// unresolved head.
func Append(item PublishItem, requireEmpty bool) Op {
	return appendOp{item: item, requireEmpty: requireEmpty}
}

func (o appendOp) Apply(r *Record) error {
	if o.item.FileID == "" || o.item.ContainerID == "" {
		return fmt.Errorf("item needs both file and container id")
	}
	if o.requireEmpty && len(r.PendingPublish) > 0 {
		return fmt.Errorf("queue holds %d item(s): %w", len(r.PendingPublish), ErrConflict)
	}
	for _, it := range r.PendingPublish {
		if it.FileID == o.item.FileID {
			return fmt.Errorf("file %q already queued: %w", o.item.FileID, ErrConflict)
		}
	}
	item := o.item
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	r.PendingPublish = append(r.PendingPublish, item)
	return nil
}

func (o appendOp) String() string {
	return fmt.Sprintf("append(%s,%s)", o.item.FileID, o.item.ContainerID)
}

type replaceHeadOp struct {
	fileID      string
	containerID string
}

// ReplaceHead swaps the head's container id in place, keeping its file and position.
func ReplaceHead(fileID, containerID string) Op {
	return replaceHeadOp{fileID: fileID, containerID: containerID}
}

func (o replaceHeadOp) Apply(r *Record) error {
	if o.containerID == "" {
		return fmt.Errorf("empty container id")
	}
	head, ok := r.Head()
	if !ok {
		return fmt.Errorf("queue is empty: %w", ErrConflict)
	}
	if head.FileID != o.fileID {
		return fmt.Errorf("head is %q, not %q: %w", head.FileID, o.fileID, ErrConflict)
	}
	r.PendingPublish[0].ContainerID = o.containerID
	return nil
}

func (o replaceHeadOp) String() string {
	return fmt.Sprintf("replaceHead(%s,%s)", o.fileID, o.containerID)
}

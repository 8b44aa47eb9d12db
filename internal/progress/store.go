package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a stream.
	ErrNotFound = errors.New("progress record not found")
	// ErrConflict is returned when a write lost against a concurrent one or an op precondition failed.
	ErrConflict = errors.New("progress record conflict")
)

// Store persists progress records.
type Store interface {
	// Get fetches the current record of a stream.
	Get(ctx context.Context, stream string) (Record, error)
	// Update applies ops atomically and returns the stored result.
	Update(ctx context.Context, stream string, ops ...Op) (Record, error)
	// Replace writes the whole record if rec.Version still matches the stored one.
	// Version 0 inserts a record that does not exist yet.
	Replace(ctx context.Context, rec Record) (Record, error)
	Close() error
}

// backend is the document persistence a Store implementation provides.
type backend interface {
	load(ctx context.Context, stream string) (doc []byte, version int64, err error)
	insert(ctx context.Context, stream string, doc []byte, updatedAt time.Time) error
	swap(ctx context.Context, stream string, doc []byte, expected int64, updatedAt time.Time) (bool, error)
	close() error
}

const defaultUpdateAttempts = 16

var reCollection = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkCollection(name string) error {
	if !reCollection.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

// versionedStore implements Store on top of a backend with compare-and-swap writes.
type versionedStore struct {
	b        backend
	attempts int
	now      func() time.Time
}

func newVersionedStore(b backend) versionedStore {
	return versionedStore{
		b:        b,
		attempts: defaultUpdateAttempts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *versionedStore) Get(ctx context.Context, stream string) (Record, error) {
	doc, version, err := s.b.load(ctx, stream)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record %q: %w", stream, err)
	}
	rec.Stream = stream
	rec.Version = version
	rec.normalize()
	return rec, nil
}

func (s *versionedStore) Update(ctx context.Context, stream string, ops ...Op) (Record, error) {
	for attempt := 0; attempt < s.attempts; attempt++ {
		cur, err := s.Get(ctx, stream)
		if err != nil {
			return Record{}, err
		}
		next := cur
		if err := ApplyOps(&next, ops...); err != nil {
			return Record{}, err
		}
		next.UpdatedAt = s.now()
		doc, err := json.Marshal(next)
		if err != nil {
			return Record{}, fmt.Errorf("encode record %q: %w", stream, err)
		}
		ok, err := s.b.swap(ctx, stream, doc, cur.Version, next.UpdatedAt)
		if err != nil {
			return Record{}, err
		}
		if ok {
			next.Version = cur.Version + 1
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}
	}
	return Record{}, fmt.Errorf("update %q after %d attempts: %w", stream, s.attempts, ErrConflict)
}

func (s *versionedStore) Replace(ctx context.Context, rec Record) (Record, error) {
	if rec.Stream == "" {
		return Record{}, errors.New("record stream is required")
	}
	next := rec.Clone()
	next.normalize()
	next.UpdatedAt = s.now()
	doc, err := json.Marshal(next)
	if err != nil {
		return Record{}, fmt.Errorf("encode record %q: %w", rec.Stream, err)
	}
	if rec.Version == 0 {
		if err := s.b.insert(ctx, rec.Stream, doc, next.UpdatedAt); err != nil {
			return Record{}, err
		}
		next.Version = 1
		return next, nil
	}
	ok, err := s.b.swap(ctx, rec.Stream, doc, rec.Version, next.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, fmt.Errorf("replace %q at version %d: %w", rec.Stream, rec.Version, ErrConflict)
	}
	next.Version = rec.Version + 1
	return next, nil
}

func (s *versionedStore) Close() error {
	return s.b.close()
}

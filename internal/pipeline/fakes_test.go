package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jo-hoe/reelcaster/internal/blob"
	"github.com/jo-hoe/reelcaster/internal/media"
	"github.com/jo-hoe/reelcaster/internal/progress"
	"github.com/jo-hoe/reelcaster/internal/publish"
)

const testStream = "beyblade"

type fakeBlob struct {
	mu        sync.Mutex
	files     []blob.File
	deleted   []string
	uploaded  []string
	mimeTypes map[string]string
	listErr   error
	deleteErr error
	uploadErr map[string]error
}

func (f *fakeBlob) Upload(_ context.Context, path, mimeType, name string) (blob.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadErr[name]; err != nil {
		return blob.File{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return blob.File{}, err
	}
	file := blob.File{ID: "id-" + name, Name: name, Size: info.Size()}
	f.files = append(f.files, file)
	f.uploaded = append(f.uploaded, name)
	if f.mimeTypes == nil {
		f.mimeTypes = map[string]string{}
	}
	f.mimeTypes[name] = mimeType
	return file, nil
}

func (f *fakeBlob) List(context.Context) ([]blob.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]blob.File(nil), f.files...), nil
}

func (f *fakeBlob) FetchLink(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files {
		if file.ID == id {
			return "https://blob.example.com/" + id, nil
		}
	}
	return "", fmt.Errorf("file %s: %w", id, blob.ErrNotFound)
}

func (f *fakeBlob) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	for i, file := range f.files {
		if file.ID == id {
			f.files = append(f.files[:i], f.files[i+1:]...)
			break
		}
	}
	return nil
}

type createCall struct {
	videoURL string
	caption  string
}

type fakePublisher struct {
	mu         sync.Mutex
	nextIDs    []string
	createErr  error
	creates    []createCall
	statuses   map[string]publish.Status
	statusErr  error
	publishErr error
	published  []string
}

func (f *fakePublisher) CreateContainer(_ context.Context, videoURL, caption string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createCall{videoURL: videoURL, caption: caption})
	if f.createErr != nil {
		return "", f.createErr
	}
	if len(f.nextIDs) == 0 {
		return "", nil
	}
	id := f.nextIDs[0]
	f.nextIDs = f.nextIDs[1:]
	return id, nil
}

func (f *fakePublisher) CheckStatus(_ context.Context, id string) (publish.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return publish.Status{}, f.statusErr
	}
	st, ok := f.statuses[id]
	if !ok {
		return publish.Status{}, errors.New("unexpected container " + id)
	}
	return st, nil
}

func (f *fakePublisher) Publish(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.published = append(f.published, id)
	if f.statuses != nil {
		f.statuses[id] = status(publish.StatusPublished, "PUBLISHED")
	}
	return "media-" + id, nil
}

func status(code publish.ContainerStatus, raw string) publish.Status {
	return publish.Status{Code: code, Raw: raw}
}

type fakeProducer struct {
	dir      string
	segments int
	ext      string
	err      error
	calls    []string
	starts   []int
}

func (f *fakeProducer) Produce(_ context.Context, source string, startPart int) ([]media.Segment, error) {
	f.calls = append(f.calls, source)
	f.starts = append(f.starts, startPart)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]media.Segment, 0, f.segments)
	for i := 0; i < f.segments; i++ {
		part := startPart + i
		ext := f.ext
		if ext == "" {
			ext = ".mp4"
		}
		p := filepath.Join(f.dir, fmt.Sprintf("render_%d%s", part, ext))
		if err := os.WriteFile(p, []byte("segment-bytes"), 0o644); err != nil {
			return nil, err
		}
		out = append(out, media.Segment{Part: part, Path: p})
	}
	return out, nil
}

type harness struct {
	store *progress.MemoryStore
	blob  *fakeBlob
	pub   *fakePublisher
	prod  *fakeProducer
	p     *Pipeline
}

func newHarness(t *testing.T, rec progress.Record) *harness {
	t.Helper()
	store := progress.NewMemoryStore()
	rec.Stream = testStream
	if _, err := store.Replace(context.Background(), rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	h := &harness{
		store: store,
		blob:  &fakeBlob{},
		pub:   &fakePublisher{statuses: map[string]publish.Status{}},
		prod:  &fakeProducer{dir: t.TempDir(), segments: 3},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.p = New(log, store, h.blob, h.pub, h.prod, Options{
		Stream:   testStream,
		Captions: []string{"Let it rip!", "Beyblade time"},
	})
	h.p.pick = func(n int) int { return n - 1 }
	return h
}

func (h *harness) record(t *testing.T) progress.Record {
	t.Helper()
	rec, err := h.store.Get(context.Background(), testStream)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	return rec
}

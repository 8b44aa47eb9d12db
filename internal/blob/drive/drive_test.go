package drive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jo-hoe/reelcaster/internal/blob"
)

type fakeDrive struct {
	mu      sync.Mutex
	shared  map[string]bool
	deleted map[string]bool
	queries []string
}

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	t.Helper()
	fd := &fakeDrive{shared: map[string]bool{}, deleted: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /files", func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		fd.queries = append(fd.queries, r.URL.Query().Get("q"))
		fd.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("pageToken") == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"nextPageToken": "p2",
				"files":         []map[string]any{{"id": "f1", "name": "part_1.mp4", "mimeType": "video/mp4"}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]any{{"id": "f2", "name": "part_2.mp4", "mimeType": "video/mp4"}},
		})
	})
	mux.HandleFunc("POST /files/{id}/permissions", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "missing" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"File not found: missing."}}`))
			return
		}
		fd.mu.Lock()
		fd.shared[id] = true
		fd.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"anyoneWithLink","type":"anyone","role":"reader"}`))
	})
	mux.HandleFunc("GET /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"webContentLink": "https://drive.example.com/uc?id=" + r.PathValue("id") + "&export=download",
		})
	})
	mux.HandleFunc("DELETE /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		fd.mu.Lock()
		fd.deleted[r.PathValue("id")] = true
		fd.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fd, srv
}

func newTestStore(t *testing.T, srv *httptest.Server) *Store {
	t.Helper()
	s, err := New(context.Background(), "", "folder-1",
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestStore_ListFollowsPages(t *testing.T) {
	fd, srv := newFakeDrive(t)
	s := newTestStore(t, srv)

	files, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 || files[0].Name != "part_1.mp4" || files[1].ID != "f2" {
		t.Fatalf("files = %+v", files)
	}
	if len(fd.queries) != 2 || !strings.Contains(fd.queries[0], "'folder-1' in parents") {
		t.Fatalf("queries = %v", fd.queries)
	}
}

func TestStore_FetchLinkSharesFile(t *testing.T) {
	fd, srv := newFakeDrive(t)
	s := newTestStore(t, srv)

	link, err := s.FetchLink(context.Background(), "f1")
	if err != nil {
		t.Fatalf("FetchLink: %v", err)
	}
	if !strings.Contains(link, "id=f1") {
		t.Fatalf("link = %q", link)
	}
	if !fd.shared["f1"] {
		t.Fatalf("file was not shared before linking")
	}

	_, err = s.FetchLink(context.Background(), "missing")
	if !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	fd, srv := newFakeDrive(t)
	s := newTestStore(t, srv)
	if err := s.Delete(context.Background(), "f2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !fd.deleted["f2"] {
		t.Fatalf("delete not received")
	}
}

func TestNew_RequiresFolder(t *testing.T) {
	if _, err := New(context.Background(), "", ""); err == nil {
		t.Fatalf("expected error without folder")
	}
}

func TestMapErr(t *testing.T) {
	if err := mapErr(&googleapi.Error{Code: 404, Message: "File not found"}); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("404 = %v", err)
	}
	if err := mapErr(&googleapi.Error{Code: 403, Message: "storageQuotaExceeded"}); !errors.Is(err, blob.ErrRejected) {
		t.Fatalf("403 = %v", err)
	}
	for _, code := range []int{429, 500} {
		err := mapErr(&googleapi.Error{Code: code})
		if errors.Is(err, blob.ErrRejected) || errors.Is(err, blob.ErrNotFound) {
			t.Fatalf("%d must stay retryable: %v", code, err)
		}
	}
	plain := errors.New("connection reset by peer")
	if err := mapErr(plain); err != plain {
		t.Fatalf("non-API errors pass through, got %v", err)
	}
}

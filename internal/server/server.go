package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/reelcaster/internal/blob"
	"github.com/jo-hoe/reelcaster/internal/common"
	"github.com/jo-hoe/reelcaster/internal/config"
	"github.com/jo-hoe/reelcaster/internal/jobs"
	"github.com/jo-hoe/reelcaster/internal/progress"
)

// Submitter accepts manual task runs. jobs.Queue implements it.
type Submitter interface {
	Submit(kind jobs.Kind, trigger jobs.Trigger) (jobs.Task, bool, error)
}

// MediaSource serves locally stored segments to the publishing API.
type MediaSource interface {
	Open(id string) (*os.File, blob.File, error)
}

type Service struct {
	Log      *slog.Logger
	Cfg      *config.Config
	Progress progress.Store
	Runs     jobs.Store  // optional
	Queue    Submitter   // optional, manual triggers return 503 without it
	Media    MediaSource // optional, set for the local blob backend
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathRoot+"{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Hello, World!")
	})
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodGet+" "+common.PathFetch, svc.withCommon(svc.handleFetch))
	mux.HandleFunc(http.MethodPost+" "+common.PathUpload, svc.withCommon(svc.handleUpload))
	mux.HandleFunc(http.MethodGet+" "+common.PathJobs, svc.withCommon(svc.handleListRuns))
	mux.HandleFunc(http.MethodPost+" "+common.PathJobs+"/{kind}", svc.withCommon(svc.handleSubmit))
	mux.HandleFunc(http.MethodGet+" "+common.PathJobs+"/{id}", svc.withCommon(svc.handleGetRun))
	if svc.Media != nil {
		mux.HandleFunc(http.MethodGet+" "+common.PathMedia+"/{id}", svc.handleMedia)
	}

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		// Enforce max body size
		max := safeInt64(svc.Cfg.Server.MaxUploadSize)
		if max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

func (svc *Service) stream() string {
	return svc.Cfg.Store.Stream
}

func (svc *Service) handleFetch(w http.ResponseWriter, r *http.Request) {
	rec, err := svc.Progress.Get(r.Context(), svc.stream())
	if err != nil {
		if errors.Is(err, progress.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no progress record for "+svc.stream())
			return
		}
		svc.logError("load progress", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("ETag", etag(rec.Version))
	writeJSON(w, http.StatusOK, rec)
}

type uploadResponse struct {
	Message    string          `json:"message"`
	UpdatedDoc progress.Record `json:"updatedDoc"`
}

// handleUpload replaces the whole record. With If-Match the write only
// succeeds against that version; without it, against the version read here.
func (svc *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		writeError(w, http.StatusBadRequest, "No JSON data received")
		return
	}
	rec, err := progress.DecodeRecord(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if rec.Stream != "" && rec.Stream != svc.stream() {
		writeError(w, http.StatusBadRequest, "record stream does not match "+svc.stream())
		return
	}
	if err := validateRecord(rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec.Stream = svc.stream()

	version, err := svc.expectedVersion(r)
	if err != nil {
		if errors.Is(err, errBadIfMatch) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		svc.logError("load progress", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	rec.Version = version

	saved, err := svc.Progress.Replace(r.Context(), rec)
	if err != nil {
		if errors.Is(err, progress.ErrConflict) {
			writeError(w, http.StatusPreconditionFailed, "record changed, fetch it again")
			return
		}
		svc.logError("replace progress", err)
		writeError(w, http.StatusInternalServerError, "some error occurred")
		return
	}
	if svc.Log != nil {
		svc.Log.Info("progress record replaced", "stream", saved.Stream, "version", saved.Version,
			"upload_cursor", saved.UploadCursor, "pending", len(saved.PendingPublish))
	}
	w.Header().Set("ETag", etag(saved.Version))
	writeJSON(w, http.StatusOK, uploadResponse{Message: "JSON data successfully uploaded", UpdatedDoc: saved})
}

var errBadIfMatch = errors.New("invalid If-Match header")

func (svc *Service) expectedVersion(r *http.Request) (int64, error) {
	if v := strings.TrimSpace(r.Header.Get("If-Match")); v != "" {
		n, err := strconv.ParseInt(strings.Trim(v, `"`), 10, 64)
		if err != nil || n < 0 {
			return 0, errBadIfMatch
		}
		return n, nil
	}
	cur, err := svc.Progress.Get(r.Context(), svc.stream())
	if errors.Is(err, progress.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cur.Version, nil
}

func validateRecord(rec progress.Record) error {
	if rec.EpisodeCursor < 0 || rec.ReelCursor < 0 || rec.UploadCursor < 0 {
		return errors.New("cursors must not be negative")
	}
	seen := make(map[string]bool, len(rec.PendingPublish))
	for i, it := range rec.PendingPublish {
		if it.FileID == "" || it.ContainerID == "" {
			return errors.New("pendingPublish[" + strconv.Itoa(i) + "] needs file_id and insta_id")
		}
		if seen[it.FileID] {
			return errors.New("pendingPublish holds file " + it.FileID + " twice")
		}
		seen[it.FileID] = true
	}
	return nil
}

type submitResponse struct {
	RunID     string `json:"run_id"`
	Kind      string `json:"kind"`
	Coalesced bool   `json:"coalesced"`
	StatusURL string `json:"status_url"`
}

func (svc *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	kind, err := jobs.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if svc.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not running")
		return
	}
	task, coalesced, err := svc.Queue.Submit(kind, jobs.TriggerHTTP)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "queue full, try later")
			return
		}
		svc.logError("submit task", err)
		writeError(w, http.StatusServiceUnavailable, "queue not accepting tasks")
		return
	}
	if svc.Log != nil {
		svc.Log.Info("manual task submitted", "task", kind, "run_id", task.ID, "coalesced", coalesced)
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		RunID:     task.ID,
		Kind:      string(kind),
		Coalesced: coalesced,
		StatusURL: path.Join(common.PathJobs, task.ID),
	})
}

func (svc *Service) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if svc.Runs == nil {
		writeError(w, http.StatusNotFound, "run history disabled")
		return
	}
	run, err := svc.Runs.GetRun(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, jobs.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		svc.logError("get run", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (svc *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if svc.Runs == nil {
		writeJSON(w, http.StatusOK, []jobs.Run{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	runs, err := svc.Runs.ListRuns(limit)
	if err != nil {
		svc.logError("list runs", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []jobs.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (svc *Service) handleMedia(w http.ResponseWriter, r *http.Request) {
	fh, meta, err := svc.Media.Open(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		svc.logError("open media", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = fh.Close() }()

	modTime := time.Time{}
	if info, err := fh.Stat(); err == nil {
		modTime = info.ModTime()
	}
	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	http.ServeContent(w, r, meta.Name, modTime, fh)
}

func (svc *Service) logError(msg string, err error) {
	if svc.Log != nil {
		svc.Log.Error(msg, "err", err)
	}
}

func etag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if log != nil {
					log.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

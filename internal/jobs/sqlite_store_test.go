package jobs

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	run := &Run{ID: "run-1", Kind: KindPublish, Trigger: TriggerSchedule, CreatedAt: now}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Stage != StageQueued {
		t.Fatalf("default stage = %q", run.Stage)
	}

	start := now.Add(1 * time.Second)
	if err := store.MarkRunning(run.ID, start); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Stage != StageRunning || got.StartedAt == nil || !got.StartedAt.Equal(start) {
		t.Fatalf("run not running: %+v", got)
	}

	comp := now.Add(2 * time.Second)
	if err := store.SaveResult(run.ID, "published", comp); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	got, err = store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Stage != StageCompleted || got.Outcome != "published" || got.ErrorMessage != nil {
		t.Fatalf("run not completed: %+v", got)
	}
	if got.Kind != KindPublish || got.Trigger != TriggerSchedule || !got.CreatedAt.Equal(now) {
		t.Fatalf("run fields mismatch: %+v", got)
	}

	failTime := now.Add(3 * time.Second)
	if err := store.SaveError(run.ID, "retry", "graph check status: status 503", failTime); err != nil {
		t.Fatalf("SaveError: %v", err)
	}
	got, err = store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Stage != StageFailed || got.Outcome != "retry" || got.ErrorMessage == nil || got.CompletedAt == nil {
		t.Fatalf("run not failed: %+v", got)
	}
}

func TestSQLiteStore_GetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC()
	for i, kind := range []Kind{KindEnqueue, KindPublish, KindProduce} {
		run := &Run{ID: string(kind), Kind: kind, Trigger: TriggerCLI, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateRun(run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	runs, err := store.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Kind != KindProduce || runs[1].Kind != KindPublish {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestSQLiteStore_CreateRunValidation(t *testing.T) {
	store := newTestStore(t)
	if err := store.CreateRun(nil); err == nil {
		t.Fatalf("expected error for nil run")
	}
	if err := store.CreateRun(&Run{Kind: KindEnqueue}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Publish ")
	if err != nil || k != KindPublish {
		t.Fatalf("ParseKind = %q, %v", k, err)
	}
	if _, err := ParseKind("dance"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

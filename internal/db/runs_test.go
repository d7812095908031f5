package db

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterje/runbox/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "nested", "runbox.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func ptr[T any](v T) *T { return &v }

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runbox.db")
	for range 2 {
		database, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		database.Close()
	}
}

func TestInsertAndGetRun(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().Truncate(time.Second)
	run := models.Run{
		ID:         "r1",
		Code:       "print('hi')",
		Mode:       models.ModeBatch,
		Status:     models.StatusSucceeded,
		Output:     "hi\r\n",
		CreatedAt:  now,
		FinishedAt: &now,
	}
	if err := s.InsertRun(run); err != nil {
		t.Fatalf("InsertRun: %v", err)
	}

	got, err := s.GetRun("r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Code != run.Code || got.Output != run.Output || got.Mode != run.Mode || got.Status != run.Status {
		t.Errorf("got %+v", got)
	}
	if got.SessionID != nil {
		t.Errorf("session id = %v, want nil", *got.SessionID)
	}
	if !got.CreatedAt.Equal(now) || got.FinishedAt == nil || !got.FinishedAt.Equal(now) {
		t.Errorf("times = %v / %v, want %v", got.CreatedAt, got.FinishedAt, now)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRun("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func insertInteractive(t *testing.T, s *Store, id, sessionID string) {
	t.Helper()
	err := s.InsertRun(models.Run{
		ID:        id,
		SessionID: ptr(sessionID),
		Code:      "input()",
		Mode:      models.ModeInteractive,
		Status:    models.StatusRunning,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertRun: %v", err)
	}
}

func TestFinishSession_OnlyOnce(t *testing.T) {
	s := newTestStore(t)
	insertInteractive(t, s, "r1", "s1")

	if err := s.FinishSession("s1", models.StatusSucceeded); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}
	if err := s.CloseSession("s1"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	got, err := s.GetRun("r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != models.StatusSucceeded {
		t.Errorf("status = %q, a finished run must not be reclosed", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at not set")
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		err := s.InsertRun(models.Run{
			ID: id, Code: id, Mode: models.ModeExec, Status: models.StatusSucceeded,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestMarkStaleRunning(t *testing.T) {
	s := newTestStore(t)
	insertInteractive(t, s, "r1", "alive")
	insertInteractive(t, s, "r2", "gone")

	n, err := s.MarkStaleRunning([]string{"alive"})
	if err != nil {
		t.Fatalf("MarkStaleRunning: %v", err)
	}
	if n != 1 {
		t.Errorf("marked %d, want 1", n)
	}

	alive, _ := s.GetRun("r1")
	gone, _ := s.GetRun("r2")
	if alive.Status != models.StatusRunning {
		t.Errorf("alive status = %q", alive.Status)
	}
	if gone.Status != models.StatusClosed {
		t.Errorf("gone status = %q", gone.Status)
	}
}

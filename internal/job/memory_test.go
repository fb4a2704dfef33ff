package job

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// repositories returns every Repository implementation under test.
func repositories(t *testing.T) map[string]Repository {
	t.Helper()

	sqlite, err := OpenSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open sqlite repository: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": sqlite,
	}
}

func TestRepository_SaveAndFind(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			fade := 0.25
			job := New([]string{"a.jpg", "b.jpg"})
			job.FamilyID = "fam-1"
			job.Options = Options{PerImageMs: 1500, Width: 640, Height: 360, FPS: 24, FadeIn: &fade, Silent: true}

			if err := repo.Save(ctx, job); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			saved, err := repo.FindByID(ctx, job.ID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if saved.ID != job.ID || saved.Status != StatusInQueue || saved.FamilyID != "fam-1" {
				t.Errorf("unexpected job: %+v", saved)
			}
			if len(saved.Photos) != 2 || saved.Photos[1] != "b.jpg" {
				t.Errorf("unexpected photos: %v", saved.Photos)
			}
			if saved.Options.FadeIn == nil || *saved.Options.FadeIn != 0.25 || saved.Options.FadeOut != nil {
				t.Errorf("unexpected fades: %+v", saved.Options)
			}
			if saved.Options.PerImageMs != 1500 || !saved.Options.Silent {
				t.Errorf("unexpected options: %+v", saved.Options)
			}
		})
	}
}

func TestRepository_SaveUpdates(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := New([]string{"a.jpg"})
			_ = repo.Save(ctx, job)

			_ = job.Start()
			job.UpdateProgress(50)
			_ = job.Fail(StatusFailed, Failure{Code: "IMAGE_LOAD_FAILED", Message: "msg", Index: 1})
			if err := repo.Save(ctx, job); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			saved, err := repo.FindByID(ctx, job.ID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if saved.Status != StatusFailed || saved.Progress != 50 {
				t.Errorf("expected FAILED at 50%%, got %s at %d", saved.Status, saved.Progress)
			}
			if saved.Failure.Code != "IMAGE_LOAD_FAILED" || saved.Failure.Index != 1 {
				t.Errorf("unexpected failure: %+v", saved.Failure)
			}
			if saved.StartedAt.IsZero() || saved.CompletedAt.IsZero() {
				t.Error("expected timestamps to survive persistence")
			}
		})
	}
}

func TestRepository_ReturnsCopies(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := New([]string{"a.jpg"})
			_ = repo.Save(ctx, job)

			job.UpdateProgress(80)
			found, _ := repo.FindByID(ctx, job.ID)
			found.Photos[0] = "changed.jpg"

			again, _ := repo.FindByID(ctx, job.ID)
			if again.Progress != 0 {
				t.Errorf("expected stored progress 0, got %d", again.Progress)
			}
			if again.Photos[0] != "a.jpg" {
				t.Errorf("expected stored photos unchanged, got %v", again.Photos)
			}
		})
	}
}

func TestRepository_FindByID_NotFound(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.FindByID(context.Background(), "missing")
			if !errors.Is(err, ErrJobNotFound) {
				t.Errorf("expected ErrJobNotFound, got %v", err)
			}
		})
	}
}

func TestRepository_ListOrdered(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, id := range []string{"job-c", "job-a", "job-b"} {
				j := NewWithID(id, []string{"a.jpg"})
				j.CreatedAt = base.Add(time.Duration(2-i) * time.Minute)
				_ = repo.Save(ctx, j)
			}

			jobs, err := repo.List(ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(jobs) != 3 {
				t.Fatalf("expected 3 jobs, got %d", len(jobs))
			}
			want := []string{"job-b", "job-a", "job-c"}
			for i, j := range jobs {
				if j.ID != want[i] {
					t.Errorf("position %d: expected %s, got %s", i, want[i], j.ID)
				}
			}
		})
	}
}

func TestRepository_Delete(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := New([]string{"a.jpg"})
			_ = repo.Save(ctx, job)

			if err := repo.Delete(ctx, job.ID); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := repo.FindByID(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("expected ErrJobNotFound after delete, got %v", err)
			}
			if err := repo.Delete(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("expected ErrJobNotFound on second delete, got %v", err)
			}
		})
	}
}

func TestSQLiteRepository_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "jobs.db")

	repo, err := OpenSQLiteRepository(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	job := New([]string{"a.jpg"})
	_ = repo.Save(ctx, job)
	if err := repo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLiteRepository(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	if reopened.Path() != path {
		t.Errorf("expected path %s, got %s", path, reopened.Path())
	}
	if _, err := reopened.FindByID(ctx, job.ID); err != nil {
		t.Errorf("expected job to survive reopen: %v", err)
	}
}

func TestSQLiteRepository_SchemaMismatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	repo, err := OpenSQLiteRepository(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := repo.db.ExecContext(ctx, "UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = repo.Close()

	if _, err := OpenSQLiteRepository(ctx, path); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestIsSQLiteBusy(t *testing.T) {
	if isSQLiteBusy(nil) {
		t.Error("nil is not busy")
	}
	if !isSQLiteBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("expected locked message to be busy")
	}
	if isSQLiteBusy(errors.New("no such table")) {
		t.Error("unexpected busy classification")
	}
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("expected success after 3 calls, got %v after %d", err, calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = retryOnBusy(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("expected single attempt for non-busy error, got %v after %d", err, calls)
	}
}

package job

import (
	"strings"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	job := New([]string{"a.jpg", "b.jpg"})

	if !strings.HasPrefix(job.ID, "job-") {
		t.Errorf("expected generated job ID, got %q", job.ID)
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
	if len(job.Photos) != 2 {
		t.Errorf("expected 2 photos, got %d", len(job.Photos))
	}
}

func TestNewWithID_CopiesPhotos(t *testing.T) {
	photos := []string{"a.jpg"}
	job := NewWithID("test-job-123", photos)
	photos[0] = "changed.jpg"

	if job.ID != "test-job-123" {
		t.Errorf("expected ID test-job-123, got %s", job.ID)
	}
	if job.Photos[0] != "a.jpg" {
		t.Errorf("expected photos to be copied, got %v", job.Photos)
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"IN_QUEUE to RUNNING", StatusInQueue, StatusRunning, false},
		{"IN_QUEUE to CANCELLED", StatusInQueue, StatusCancelled, false},
		{"IN_QUEUE to FAILED", StatusInQueue, StatusFailed, false},
		{"RUNNING to COMPLETED", StatusRunning, StatusCompleted, false},
		{"RUNNING to FAILED", StatusRunning, StatusFailed, false},
		{"RUNNING to CANCELLED", StatusRunning, StatusCancelled, false},
		{"RUNNING to TIMED_OUT", StatusRunning, StatusTimedOut, false},
		{"IN_QUEUE to COMPLETED", StatusInQueue, StatusCompleted, true},
		{"IN_QUEUE to TIMED_OUT", StatusInQueue, StatusTimedOut, true},
		{"COMPLETED to RUNNING", StatusCompleted, StatusRunning, true},
		{"FAILED to COMPLETED", StatusFailed, StatusCompleted, true},
		{"CANCELLED to RUNNING", StatusCancelled, StatusRunning, true},
		{"TIMED_OUT to RUNNING", StatusTimedOut, StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test", nil)
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && err != ErrInvalidTransition {
				t.Errorf("expected ErrInvalidTransition for %s -> %s, got %v", tt.from, tt.to, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_Lifecycle(t *testing.T) {
	job := NewWithID("test", []string{"a.jpg"})

	if err := job.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}

	job.UpdateProgress(40)
	if err := job.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if job.Progress != 100 {
		t.Errorf("expected progress 100, got %d", job.Progress)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
	if !job.IsTerminal() {
		t.Error("expected completed job to be terminal")
	}
}

func TestJob_Fail(t *testing.T) {
	job := NewWithID("test", []string{"a.jpg", "b.jpg"})
	_ = job.Start()

	f := Failure{Code: "IMAGE_LOAD_FAILED", Message: "Could not load image 2.", Index: 2}
	if err := job.Fail(StatusFailed, f); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", job.Status)
	}
	if job.Failure != f {
		t.Errorf("expected failure %+v, got %+v", f, job.Failure)
	}

	if err := job.Fail(StatusCancelled, Failure{}); err != ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Failure != f {
		t.Error("expected failure to be unchanged after rejected transition")
	}
}

func TestJob_UpdateProgress(t *testing.T) {
	job := NewWithID("test", nil)

	tests := []struct {
		input    int
		expected int
	}{
		{50, 50},
		{30, 50},
		{150, 100},
		{-10, 100},
	}

	for _, tt := range tests {
		job.UpdateProgress(tt.input)
		if job.Progress != tt.expected {
			t.Errorf("UpdateProgress(%d): expected %d, got %d", tt.input, tt.expected, job.Progress)
		}
	}
}

func TestJob_Output(t *testing.T) {
	job := NewWithID("test", nil)
	job.SetOutput("/tmp/recap.webm", "video/webm", 6000, 1024)
	job.SetVideoURL("https://example.com/recap.webm")

	if job.OutputPath != "/tmp/recap.webm" || job.MimeType != "video/webm" {
		t.Errorf("unexpected output: %s %s", job.OutputPath, job.MimeType)
	}
	if job.DurationMs != 6000 || job.SizeBytes != 1024 {
		t.Errorf("unexpected size/duration: %d %d", job.SizeBytes, job.DurationMs)
	}

	job.ClearOutput()
	if job.OutputPath != "" {
		t.Errorf("expected output path to be cleared, got %q", job.OutputPath)
	}
	if job.VideoURL == "" {
		t.Error("expected video URL to be kept")
	}
}

func TestJob_Clone(t *testing.T) {
	fade := 0.2
	job := NewWithID("test", []string{"a.jpg"})
	job.Options = Options{FadeIn: &fade, Width: 640}
	job.SetStage("running")

	clone := job.Clone()
	clone.Photos[0] = "changed.jpg"
	*clone.Options.FadeIn = 0.4

	if job.Photos[0] != "a.jpg" {
		t.Error("expected photos to be deep copied")
	}
	if *job.Options.FadeIn != 0.2 {
		t.Error("expected fade pointer to be deep copied")
	}
	if clone.Stage != "running" || clone.Options.Width != 640 {
		t.Errorf("unexpected clone fields: %+v", clone)
	}
}

func TestJob_ConcurrentAccess(t *testing.T) {
	job := NewWithID("test", nil)
	_ = job.Start()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(p int) {
			defer wg.Done()
			job.UpdateProgress(p)
		}(i)
		go func() {
			defer wg.Done()
			_ = job.Clone()
			_ = job.GetStatus()
		}()
	}
	wg.Wait()

	if job.Progress != 99 {
		t.Errorf("expected highest progress 99, got %d", job.Progress)
	}
}

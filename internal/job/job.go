// Package job tracks recap renders that run in the background: the Job
// aggregate with its status state machine, repositories to persist it and
// the RecapService use case that drives renders through the pipeline.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/photo-recap/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a render slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the recap is being rendered.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the recap was rendered successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the render ended in a classified error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by the caller.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the render exceeded its time limit.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Options are the render settings requested for a job. Zero values select
// the pipeline defaults.
type Options struct {
	PerImageMs int      `json:"per_image_ms,omitempty"`
	Width      int      `json:"width,omitempty"`
	Height     int      `json:"height,omitempty"`
	FPS        int      `json:"fps,omitempty"`
	FadeIn     *float64 `json:"fade_in,omitempty"`
	FadeOut    *float64 `json:"fade_out,omitempty"`
	MusicURL   string   `json:"music_url,omitempty"`
	Silent     bool     `json:"silent,omitempty"`
}

// Failure is a classified render failure as persisted on a job.
type Failure struct {
	// Code is the stable failure code.
	Code string `json:"code,omitempty"`
	// Detail narrows the message of validation failures.
	Detail string `json:"detail,omitempty"`
	// Message is the English user-facing message.
	Message string `json:"message,omitempty"`
	// Index is the 1-based failing image for image load failures.
	Index int `json:"index,omitempty"`
}

// Job represents one recap render.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Photos are the image references, in display order.
	Photos []string
	// FamilyID owns the published video; empty skips publishing.
	FamilyID string
	// Options are the requested render settings.
	Options Options
	// Stage is the current pipeline state while running.
	Stage string
	// Progress is the percentage of completion (0-100).
	Progress int
	// Failure describes why the job did not complete.
	Failure Failure
	// OutputPath is the local copy of the rendered video.
	OutputPath string
	// MimeType tags the rendered video.
	MimeType string
	// DurationMs is the total video duration.
	DurationMs int64
	// SizeBytes is the rendered video size.
	SizeBytes int
	// VideoURL is the published URL, if uploaded.
	VideoURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when rendering started.
	StartedAt time.Time
	// CompletedAt is when rendering finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New(photos []string) *Job {
	return NewWithID(id.Generate(), photos)
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID string, photos []string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		Photos:    append([]string(nil), photos...),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED and sets progress to 100.
func (j *Job) Complete() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	return nil
}

// Fail records a classified failure and moves the job to status, which must
// be FAILED, CANCELLED or TIMED_OUT.
func (j *Job) Fail(status Status, f Failure) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.Failure = f
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage, clamped to 0-100. Progress
// never decreases.
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress = max(0, min(100, progress))
	if progress < j.Progress {
		return
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// SetStage records the current pipeline state.
func (j *Job) SetStage(stage string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = stage
	j.UpdatedAt = time.Now()
}

// SetOutput records the rendered video.
func (j *Job) SetOutput(path, mimeType string, durationMs int64, size int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = path
	j.MimeType = mimeType
	j.DurationMs = durationMs
	j.SizeBytes = size
	j.UpdatedAt = time.Now()
}

// SetVideoURL records the published URL.
func (j *Job) SetVideoURL(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.VideoURL = url
	j.UpdatedAt = time.Now()
}

// ClearOutput forgets the local video once it has been removed.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputPath = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	opts := j.Options
	opts.FadeIn = cloneFloat(j.Options.FadeIn)
	opts.FadeOut = cloneFloat(j.Options.FadeOut)

	return &Job{
		ID:          j.ID,
		Status:      j.Status,
		Photos:      append([]string(nil), j.Photos...),
		FamilyID:    j.FamilyID,
		Options:     opts,
		Stage:       j.Stage,
		Progress:    j.Progress,
		Failure:     j.Failure,
		OutputPath:  j.OutputPath,
		MimeType:    j.MimeType,
		DurationMs:  j.DurationMs,
		SizeBytes:   j.SizeBytes,
		VideoURL:    j.VideoURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

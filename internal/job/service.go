package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/photo-recap/internal/media"
	"github.com/maauso/photo-recap/internal/pipeline"
	"github.com/maauso/photo-recap/internal/recaperr"
	"github.com/maauso/photo-recap/internal/upload"
)

// DefaultMaxConcurrentRenders bounds parallel renders when not configured.
const DefaultMaxConcurrentRenders = 2

var (
	// ErrJobNotQueued is returned when processing a job that already left IN_QUEUE.
	ErrJobNotQueued = errors.New("job is not queued")
	// ErrVideoNotReady is returned when reading the video of an unfinished job.
	ErrVideoNotReady = errors.New("video is not available")
)

// Renderer renders one recap.
type Renderer interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Artifact, error)
}

// Uploader publishes finished recaps.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) upload.Result
}

// TempStore keeps the local copy of rendered videos.
type TempStore interface {
	SaveTemp(ctx context.Context, name string, data io.Reader) (string, error)
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)
	CleanupTemp(ctx context.Context, paths []string) error
}

// CreateInput contains the parameters of a new recap job.
type CreateInput struct {
	// Photos are the image references in display order.
	Photos []string
	// FamilyID publishes the video under this family when an uploader is set.
	FamilyID string
	// Options are the render settings.
	Options Options
}

// RecapService creates recap jobs and renders them in the background, at
// most maxConcurrent at a time.
type RecapService struct {
	repo     Repository
	renderer Renderer
	temp     TempStore
	uploader Uploader
	logger   *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// ServiceOption configures a RecapService.
type ServiceOption func(*RecapService)

// WithUploader publishes completed recaps that carry a family ID.
func WithUploader(u Uploader) ServiceOption {
	return func(s *RecapService) {
		s.uploader = u
	}
}

// WithMaxConcurrentRenders sets how many renders may run in parallel.
func WithMaxConcurrentRenders(n int) ServiceOption {
	return func(s *RecapService) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *RecapService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewRecapService creates a new RecapService.
func NewRecapService(repo Repository, renderer Renderer, temp TempStore, opts ...ServiceOption) *RecapService {
	s := &RecapService{
		repo:     repo,
		renderer: renderer,
		temp:     temp,
		logger:   slog.Default(),
		sem:      make(chan struct{}, DefaultMaxConcurrentRenders),
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob validates input and persists a new IN_QUEUE job. Validation
// failures are *recaperr.Error values.
func (s *RecapService) CreateJob(ctx context.Context, input CreateInput) (*Job, error) {
	j := New(input.Photos)
	j.FamilyID = input.FamilyID
	j.Options = input.Options

	if _, err := pipeline.Validate(requestFor(j)); err != nil {
		return nil, err
	}

	s.logger.Info("creating recap job",
		slog.String("job_id", j.ID),
		slog.Int("images", len(j.Photos)),
		slog.Bool("publish", j.FamilyID != ""),
	)

	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return j, nil
}

// Submit creates a job and renders it in the background. The render outlives
// ctx's cancellation but keeps its values.
func (s *RecapService) Submit(ctx context.Context, input CreateInput) (*Job, error) {
	j, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.ProcessExistingJob(bg, j.ID)
		if errors.Is(err, ErrJobNotQueued) {
			s.logger.Info("recap job left the queue before processing", slog.String("job_id", j.ID))
			return
		}
		if err != nil {
			s.logger.Error("recap job processing failed",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return j, nil
}

// GetJob retrieves a job by ID.
func (s *RecapService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, oldest first.
func (s *RecapService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Cancel aborts a job. A queued job is cancelled immediately; a running one
// is interrupted and reaches CANCELLED once its render has cleaned up.
func (s *RecapService) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.cancels[id]; ok {
		cancel()
		s.logger.Info("recap job cancellation requested", slog.String("job_id", id))
		return nil
	}

	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := j.Fail(StatusCancelled, failureFrom(recaperr.New(recaperr.KindCancelled, nil))); err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	return s.repo.Save(ctx, j)
}

// ProcessExistingJob renders a queued job, waiting for a free render slot.
// Render failures are recorded on the job; the returned error reports only
// problems with the job itself or its persistence.
func (s *RecapService) ProcessExistingJob(ctx context.Context, id string) error {
	j, runCtx, done, err := s.claim(ctx, id)
	if err != nil {
		return err
	}
	defer done()

	log := s.logger.With(slog.String("job_id", j.ID))
	saveCtx := context.WithoutCancel(ctx)

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-runCtx.Done():
		f := failureFrom(recaperr.New(recaperr.KindCancelled, runCtx.Err()))
		if err := j.Fail(StatusCancelled, f); err != nil {
			return err
		}
		log.Info("recap job cancelled while queued")
		return s.repo.Save(saveCtx, j)
	}

	if err := j.Start(); err != nil {
		return err
	}
	if err := s.repo.Save(saveCtx, j); err != nil {
		return err
	}

	req := requestFor(j)
	req.OnState = func(st pipeline.State) {
		j.SetStage(string(st))
		s.persist(saveCtx, j, log)
	}
	req.OnProgress = func(percent int) {
		j.UpdateProgress(percent)
		s.persist(saveCtx, j, log)
	}

	log.Info("recap render started", slog.Int("images", len(j.Photos)))

	artifact, err := s.renderer.Run(runCtx, req)
	if err != nil {
		return s.recordFailure(saveCtx, j, err, log)
	}

	if err := s.storeArtifact(saveCtx, j, artifact); err != nil {
		_ = artifact.Release()
		return s.recordFailure(saveCtx, j, recaperr.New(recaperr.KindResourceAllocation, err), log)
	}

	if j.FamilyID != "" && s.uploader != nil {
		res := s.uploader.Upload(runCtx, upload.Request{
			OwnerFamilyID:   j.FamilyID,
			SourceImageRefs: j.Photos,
			VideoBase64:     upload.EncodeVideo(artifact.Buffer),
			MimeType:        artifact.MimeType,
		})
		if res.Error != nil {
			log.Warn("recap publish failed, keeping local copy", slog.String("error", res.Error.Error()))
		} else {
			j.SetVideoURL(res.URL)
		}
	}

	if err := j.Complete(); err != nil {
		return err
	}
	log.Info("recap job completed",
		slog.String("mime_type", j.MimeType),
		slog.Int("bytes", j.SizeBytes),
		slog.Int64("duration_ms", j.DurationMs),
	)
	return s.repo.Save(saveCtx, j)
}

// claim loads a queued job and registers its cancel func.
func (s *RecapService) claim(ctx context.Context, id string) (*Job, context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if j.GetStatus() != StatusInQueue {
		return nil, nil, nil, fmt.Errorf("%w: %s is %s", ErrJobNotQueued, id, j.GetStatus())
	}
	if _, running := s.cancels[id]; running {
		return nil, nil, nil, fmt.Errorf("%w: %s is already claimed", ErrJobNotQueued, id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancels[id] = cancel

	done := func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		cancel()
	}
	return j, runCtx, done, nil
}

// storeArtifact keeps the rendered video on local disk. The job takes over
// the artifact's transient copy when there is one.
func (s *RecapService) storeArtifact(ctx context.Context, j *Job, a *pipeline.Artifact) error {
	path := ""
	if a.Ref != nil {
		path = a.Ref.Path
	} else {
		p, err := s.temp.SaveTemp(ctx, j.ID+media.ExtensionFor(a.MimeType), bytes.NewReader(a.Buffer))
		if err != nil {
			return fmt.Errorf("store video: %w", err)
		}
		path = p
	}
	j.SetOutput(path, a.MimeType, a.TotalDurationMs(), len(a.Buffer))
	return nil
}

func (s *RecapService) recordFailure(ctx context.Context, j *Job, err error, log *slog.Logger) error {
	rerr, ok := recaperr.As(err)
	if !ok {
		rerr = recaperr.New(recaperr.KindEncoding, err)
	}

	status := StatusFailed
	switch rerr.Kind {
	case recaperr.KindTimeout:
		status = StatusTimedOut
	case recaperr.KindCancelled:
		status = StatusCancelled
	}

	if ferr := j.Fail(status, failureFrom(rerr)); ferr != nil {
		return ferr
	}

	attrs := []any{slog.String("code", rerr.Code()), slog.String("status", string(status))}
	if rerr.Err != nil {
		attrs = append(attrs, slog.String("error", rerr.Err.Error()))
	}
	log.Warn("recap job failed", attrs...)

	return s.repo.Save(ctx, j)
}

func (s *RecapService) persist(ctx context.Context, j *Job, log *slog.Logger) {
	if err := s.repo.Save(ctx, j); err != nil {
		log.Warn("failed to save job progress", slog.String("error", err.Error()))
	}
}

// OpenVideo returns the rendered video of a completed job.
func (s *RecapService) OpenVideo(ctx context.Context, id string) (io.ReadCloser, *Job, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if j.GetStatus() != StatusCompleted || j.OutputPath == "" {
		return nil, nil, ErrVideoNotReady
	}

	rc, err := s.temp.LoadTemp(ctx, j.OutputPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrVideoNotReady, err)
	}
	return rc, j, nil
}

// PurgeExpired removes finished jobs, and their local videos, whose
// completion is older than retention. It returns how many jobs were removed.
func (s *RecapService) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	purged := 0
	for _, j := range jobs {
		if !j.IsTerminal() || j.CompletedAt.After(cutoff) {
			continue
		}
		if j.OutputPath != "" {
			if err := s.temp.CleanupTemp(ctx, []string{j.OutputPath}); err != nil {
				s.logger.Warn("failed to remove recap video",
					slog.String("job_id", j.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		if err := s.repo.Delete(ctx, j.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
			return purged, err
		}
		purged++
	}

	if purged > 0 {
		s.logger.Info("expired recap jobs purged", slog.Int("count", purged))
	}
	return purged, nil
}

// Shutdown cancels running renders and waits for background jobs to record
// their outcome, or for ctx to end.
func (s *RecapService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every submitted job has finished.
func (s *RecapService) Wait() {
	s.wg.Wait()
}

func requestFor(j *Job) pipeline.Request {
	o := j.Options
	return pipeline.Request{
		Photos:   append([]string(nil), j.Photos...),
		PerImage: time.Duration(o.PerImageMs) * time.Millisecond,
		Width:    o.Width,
		Height:   o.Height,
		FPS:      o.FPS,
		FadeIn:   cloneFloat(o.FadeIn),
		FadeOut:  cloneFloat(o.FadeOut),
		MusicURL: o.MusicURL,
		Silent:   o.Silent,
	}
}

func failureFrom(e *recaperr.Error) Failure {
	return Failure{
		Code:    e.Code(),
		Detail:  string(e.Detail),
		Message: e.Message(),
		Index:   e.Index,
	}
}

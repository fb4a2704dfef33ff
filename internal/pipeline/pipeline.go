// Package pipeline orchestrates one recap render: it validates the request,
// prepares the surface, audio and encoder, drives the timeline and finalizes
// the encoder into an artifact, mapping every failure to a recaperr.Error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/maauso/photo-recap/internal/audio"
	"github.com/maauso/photo-recap/internal/imageload"
	"github.com/maauso/photo-recap/internal/media"
	"github.com/maauso/photo-recap/internal/recaperr"
	"github.com/maauso/photo-recap/internal/timeline"
)

// DefaultTimeout is the wall-clock ceiling of one render.
const DefaultTimeout = 5 * time.Minute

// maxSurfacePixels bounds the output surface.
const maxSurfacePixels = 4096 * 4096

var (
	errPipelineTimeout    = errors.New("pipeline: render exceeded its time limit")
	errMissingDependency  = errors.New("pipeline: missing dependency")
	errSurfaceAllocation  = errors.New("pipeline: cannot allocate surface")
	errEncoderUnavailable = errors.New("pipeline: encoder unavailable")
)

// AudioLoader loads background music, returning nil when it cannot be used.
type AudioLoader interface {
	TryLoad(ctx context.Context, source string) *audio.Track
}

// Dependencies are the collaborators of a Pipeline.
type Dependencies struct {
	Prober  media.Prober
	Images  imageload.Loader
	Audio   AudioLoader
	Encoder media.Encoder
	Temp    TempStore
	Logger  *slog.Logger
}

// SurfaceAllocator creates the output surface.
type SurfaceAllocator func(width, height int) (*image.RGBA, error)

// Pipeline renders recaps. It is safe for concurrent use: every Run owns its
// surface, encoder session and audio track.
type Pipeline struct {
	deps         Dependencies
	caps         media.Capabilities
	timeout      time.Duration
	container    string
	bitrateKbps  int
	pacing       bool
	defaultMusic string
	allocate     SurfaceAllocator
	logger       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout sets the wall-clock ceiling of one render.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithContainer selects the output container (webm or mp4).
func WithContainer(c string) Option {
	return func(p *Pipeline) {
		if c != "" {
			p.container = c
		}
	}
}

// WithBitrate sets the fixed video bitrate in kbps.
func WithBitrate(kbps int) Option {
	return func(p *Pipeline) {
		if kbps > 0 {
			p.bitrateKbps = kbps
		}
	}
}

// WithPacing releases frames at the wall-clock frame rate instead of as fast
// as the encoder accepts them.
func WithPacing(enabled bool) Option {
	return func(p *Pipeline) {
		p.pacing = enabled
	}
}

// WithDefaultMusicURL sets the music used when a request names none.
func WithDefaultMusicURL(u string) Option {
	return func(p *Pipeline) {
		p.defaultMusic = u
	}
}

// WithSurfaceAllocator overrides how the output surface is created.
func WithSurfaceAllocator(fn SurfaceAllocator) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.allocate = fn
		}
	}
}

// New probes the runtime and creates a Pipeline. If the encoding primitives
// are absent it fails with an unsupported-runtime error before allocating
// anything.
func New(ctx context.Context, deps Dependencies, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		deps:        deps,
		timeout:     DefaultTimeout,
		container:   media.ContainerWebM,
		bitrateKbps: media.DefaultBitrateKbps,
		allocate:    allocateSurface,
		logger:      deps.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(p)
	}

	if deps.Prober == nil || deps.Encoder == nil || deps.Images == nil {
		return nil, recaperr.New(recaperr.KindUnsupportedRuntime, errMissingDependency)
	}

	caps, err := deps.Prober.Probe(ctx)
	if err != nil {
		p.logger.Error("encoder capability probe failed", slog.String("error", err.Error()))
		return nil, recaperr.New(recaperr.KindUnsupportedRuntime, err)
	}
	p.caps = caps

	return p, nil
}

// Capabilities returns the probed encoder capabilities.
func (p *Pipeline) Capabilities() media.Capabilities {
	return p.caps
}

// Container returns the configured output container.
func (p *Pipeline) Container() string {
	return p.container
}

// resources are owned by one run and released during finalization.
type resources struct {
	surface *image.RGBA
	track   *audio.Track
	session media.FrameEncoder
}

// Run renders req. On success the caller owns the returned Artifact. On
// failure the error is a *recaperr.Error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Artifact, error) {
	sm := newStateMachine(req.OnState)
	start := time.Now()

	sm.to(StateValidating)
	settings, err := Validate(req)
	if err != nil {
		sm.to(StateFinalizing)
		sm.to(StateFailed)
		return nil, err
	}
	if settings.MusicURL == "" {
		settings.MusicURL = p.defaultMusic
	}

	runCtx, cancel := context.WithTimeoutCause(ctx, p.timeout, errPipelineTimeout)
	defer cancel()

	res := &resources{}
	sm.to(StatePreparing)
	runErr := p.render(runCtx, sm, req.Photos, settings, req.OnProgress, res)

	sm.to(StateFinalizing)
	artifact, err := p.finalize(runCtx, res, settings, len(req.Photos), runErr)
	if err != nil {
		sm.to(StateFailed)
		p.logger.Warn("recap render failed",
			slog.String("code", string(recaperr.KindOf(err))),
			slog.Int("images", len(req.Photos)),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", causeOf(err)),
		)
		return nil, err
	}

	sm.to(StateCompleted)
	p.logger.Info("recap render completed",
		slog.Int("images", len(req.Photos)),
		slog.String("mime_type", artifact.MimeType),
		slog.Int("bytes", len(artifact.Buffer)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return artifact, nil
}

// render covers Preparing and Running. Resources acquired are recorded in res
// so finalize can release them whatever happens here.
func (p *Pipeline) render(ctx context.Context, sm *stateMachine, photos []string, s Settings, onProgress func(int), res *resources) error {
	surface, err := p.allocate(s.Width, s.Height)
	if err != nil {
		return recaperr.New(recaperr.KindResourceAllocation, err)
	}
	res.surface = surface

	if !s.Silent && s.MusicURL != "" && p.deps.Audio != nil {
		res.track = p.deps.Audio.TryLoad(ctx, s.MusicURL)
	}

	profile, err := media.Negotiate(p.caps, p.container)
	if err != nil {
		return recaperr.New(recaperr.KindEncoderInit, err)
	}

	opts := media.SessionOptions{
		Width:         s.Width,
		Height:        s.Height,
		FPS:           s.FPS,
		BitrateKbps:   p.bitrateKbps,
		Profile:       profile,
		TotalDuration: s.EncodedDuration(len(photos)),
	}
	if res.track != nil {
		opts.Audio = res.track
	}

	session, err := p.deps.Encoder.Open(opts)
	if err != nil {
		return recaperr.New(recaperr.KindEncoderInit, err)
	}
	res.session = session

	if err := session.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return recaperr.New(recaperr.KindEncoderInit, fmt.Errorf("%w: %w", errEncoderUnavailable, err))
	}

	sm.to(StateRunning)

	cfg := s.Timeline()

	driverOpts := []timeline.Option{timeline.WithLogger(p.logger)}
	if onProgress != nil {
		driverOpts = append(driverOpts, timeline.WithProgress(onProgress))
	}
	if p.pacing {
		pacer := timeline.NewTickerPacer(cfg.FrameInterval())
		defer pacer.Stop()
		driverOpts = append(driverOpts, timeline.WithPacer(pacer))
	}

	return timeline.NewDriver(cfg, p.deps.Images, driverOpts...).Run(ctx, photos, surface, session)
}

// finalize stops the session exactly once, releases the audio track and
// builds the artifact or the classified error.
func (p *Pipeline) finalize(ctx context.Context, res *resources, s Settings, n int, runErr error) (*Artifact, error) {
	defer func() {
		if res.track != nil {
			res.track.Release()
		}
	}()

	if runErr != nil {
		if res.session != nil {
			if err := res.session.Close(); err != nil {
				p.logger.Warn("encoder close failed", slog.String("error", err.Error()))
			}
		}
		return nil, p.classify(ctx, runErr)
	}

	data, err := res.session.Stop()
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	if len(data) == 0 {
		return nil, recaperr.New(recaperr.KindCorruptOutput, nil)
	}

	artifact := &Artifact{
		Buffer:        data,
		MimeType:      res.session.MimeType(),
		TotalDuration: s.TotalDuration(n),
	}

	if p.deps.Temp != nil {
		ref, err := newTransientRef(ctx, p.deps.Temp, "recap"+media.ExtensionFor(artifact.MimeType), data)
		if err != nil {
			return nil, recaperr.New(recaperr.KindResourceAllocation, err)
		}
		artifact.Ref = ref
	}

	return artifact, nil
}

// classify maps a raw run failure onto the taxonomy. The render deadline and
// caller cancellation win over whatever error they caused downstream.
func (p *Pipeline) classify(ctx context.Context, err error) *recaperr.Error {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, errPipelineTimeout) || errors.Is(cause, context.DeadlineExceeded) {
			return recaperr.New(recaperr.KindTimeout, err)
		}
		return recaperr.New(recaperr.KindCancelled, err)
	}
	if e, ok := recaperr.As(err); ok {
		return e
	}
	if errors.Is(err, media.ErrEmptyOutput) {
		return recaperr.New(recaperr.KindEmptyOutput, err)
	}
	return recaperr.FromEncoder(err)
}

func allocateSurface(width, height int) (surface *image.RGBA, err error) {
	if width <= 0 || height <= 0 || width*height > maxSurfacePixels {
		return nil, fmt.Errorf("%w: %dx%d", errSurfaceAllocation, width, height)
	}
	defer func() {
		if r := recover(); r != nil {
			surface, err = nil, fmt.Errorf("%w: %v", errSurfaceAllocation, r)
		}
	}()
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

func causeOf(err error) string {
	if cause := errors.Unwrap(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}

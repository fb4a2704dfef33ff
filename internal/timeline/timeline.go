// Package timeline drives the frame clock across all images of a recap: it
// loads each image, renders its frames with fade opacity and pushes every
// rendered surface to a frame sink, reporting progress per finished image.
package timeline

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/maauso/photo-recap/internal/compositor"
	"github.com/maauso/photo-recap/internal/imageload"
	"github.com/maauso/photo-recap/internal/recaperr"
)

// ErrInvalidConfig is returned when the timeline cannot produce any frame.
var ErrInvalidConfig = errors.New("timeline: fps and per-image duration must be positive")

// Config describes the timeline of one recap.
type Config struct {
	PerImage time.Duration
	FPS      int
	// FadeIn and FadeOut are fractions of each image's frames, expected in [0, 0.5].
	FadeIn  float64
	FadeOut float64
	Width   int
	Height  int
}

// FramesPerImage returns how many frames each image is shown for (at least one).
func (c Config) FramesPerImage() int {
	n := int(math.Round(float64(c.PerImage.Milliseconds()) * float64(c.FPS) / 1000))
	if n < 1 {
		return 1
	}
	return n
}

// FrameInterval is the wall-clock cadence of one tick.
func (c Config) FrameInterval() time.Duration {
	if c.FPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.FPS)
}

// Frame describes one tick of the timeline.
type Frame struct {
	ImageIndex int
	LocalFrame int
	Opacity    float64
}

// FrameSink consumes rendered surfaces in timeline order.
type FrameSink interface {
	WriteFrame(frame *image.RGBA) error
}

// Driver advances the timeline.
type Driver struct {
	cfg        Config
	loader     imageload.Loader
	compositor *compositor.Compositor
	pacer      Pacer
	logger     *slog.Logger

	onProgress func(percent int)
	onFrame    func(Frame)
}

// Option configures a Driver.
type Option func(*Driver)

// WithPacer overrides the default YieldPacer.
func WithPacer(p Pacer) Option {
	return func(d *Driver) {
		d.pacer = p
	}
}

// WithProgress registers a callback invoked after every finished image.
func WithProgress(fn func(percent int)) Option {
	return func(d *Driver) {
		d.onProgress = fn
	}
}

// WithFrameObserver registers a callback invoked for every rendered frame.
func WithFrameObserver(fn func(Frame)) Option {
	return func(d *Driver) {
		d.onFrame = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriver creates a Driver.
func NewDriver(cfg Config, loader imageload.Loader, opts ...Option) *Driver {
	d := &Driver{
		cfg:        cfg,
		loader:     loader,
		compositor: compositor.New(cfg.Width, cfg.Height),
		pacer:      YieldPacer{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run renders every image in refs onto surface and writes each frame to sink.
// A load failure aborts immediately with a recaperr image-load error citing the
// 1-based position; if ctx is already done its error is returned instead.
func (d *Driver) Run(ctx context.Context, refs []string, surface *image.RGBA, sink FrameSink) error {
	if d.cfg.FPS <= 0 || d.cfg.PerImage <= 0 {
		return ErrInvalidConfig
	}

	total := d.cfg.FramesPerImage()
	n := len(refs)

	for i, ref := range refs {
		decoded, err := d.loader.Load(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Warn("image load failed",
				slog.Int("position", i+1),
				slog.String("error", err.Error()),
			)
			return recaperr.ImageLoad(i+1, err)
		}

		layer := d.compositor.Prepare(decoded.Image)

		for f := 0; f < total; f++ {
			if err := d.pacer.Wait(ctx); err != nil {
				return err
			}

			frame := Frame{
				ImageIndex: i,
				LocalFrame: f,
				Opacity:    compositor.Opacity(f, total, d.cfg.FadeIn, d.cfg.FadeOut),
			}
			d.compositor.Render(surface, layer, frame.Opacity)

			if err := sink.WriteFrame(surface); err != nil {
				return err
			}
			if d.onFrame != nil {
				d.onFrame(frame)
			}
		}

		if d.onProgress != nil {
			d.onProgress(Progress(i+1, n))
		}
		d.logger.Debug("image rendered",
			slog.Int("position", i+1),
			slog.Int("frames", total),
		)
	}

	return nil
}

// Progress returns round(done/total*100).
func Progress(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

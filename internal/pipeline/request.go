package pipeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/photo-recap/internal/recaperr"
	"github.com/maauso/photo-recap/internal/timeline"
)

// ErrShorterThanFrame is the cause of a validation failure when each photo
// would be shown for less than one frame.
var ErrShorterThanFrame = errors.New("pipeline: per-image duration is shorter than one frame")

// Limits and defaults of a render request.
const (
	MaxImages       = 50
	DefaultPerImage = 3 * time.Second
	DefaultWidth    = 1920
	DefaultHeight   = 1080
	DefaultFPS      = 30
	DefaultFade     = 0.1
	MaxFade         = 0.5
)

// Request describes one recap render.
type Request struct {
	// Photos are image references in display order.
	Photos []string
	// PerImage is how long each image is shown. Zero selects DefaultPerImage.
	PerImage time.Duration
	Width    int
	Height   int
	FPS      int
	// FadeIn and FadeOut are fractions of each image's frames; nil selects
	// DefaultFade. Values are clamped to [0, MaxFade].
	FadeIn  *float64
	FadeOut *float64
	// MusicURL overrides the configured default music.
	MusicURL string
	// Silent disables background music.
	Silent bool

	// OnProgress receives a percentage after each image, on the render goroutine.
	OnProgress func(percent int)
	// OnState receives every state change, on the render goroutine.
	OnState func(State)
}

// Settings are the resolved, validated parameters of a request.
type Settings struct {
	PerImage time.Duration `validate:"min=10ms,max=60s"`
	Width    int           `validate:"min=16,max=4096,even"`
	Height   int           `validate:"min=16,max=4096,even"`
	FPS      int           `validate:"min=1,max=60"`
	FadeIn   float64       `validate:"min=0,max=0.5"`
	FadeOut  float64       `validate:"min=0,max=0.5"`
	MusicURL string
	Silent   bool
}

// TotalDuration returns n × PerImage.
func (s Settings) TotalDuration(n int) time.Duration {
	return time.Duration(n) * s.PerImage
}

// Timeline returns the timeline configuration of the settings.
func (s Settings) Timeline() timeline.Config {
	return timeline.Config{
		PerImage: s.PerImage,
		FPS:      s.FPS,
		FadeIn:   s.FadeIn,
		FadeOut:  s.FadeOut,
		Width:    s.Width,
		Height:   s.Height,
	}
}

// EncodedDuration is the length of n images' frames at the output rate. It
// differs from TotalDuration by less than half a frame per image.
func (s Settings) EncodedDuration(n int) time.Duration {
	frames := n * s.Timeline().FramesPerImage()
	return time.Duration(frames) * time.Second / time.Duration(s.FPS)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("even", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%2 == 0
	})
	return v
}

// Validate checks the image count and resolves the request settings. Any
// failure is a *recaperr.Error of kind validation.
func Validate(req Request) (Settings, error) {
	switch n := len(req.Photos); {
	case n == 0:
		return Settings{}, recaperr.NoImages()
	case n > MaxImages:
		return Settings{}, recaperr.TooManyImages(n)
	}

	s := Settings{
		PerImage: req.PerImage,
		Width:    req.Width,
		Height:   req.Height,
		FPS:      req.FPS,
		FadeIn:   clampFade(req.FadeIn),
		FadeOut:  clampFade(req.FadeOut),
		MusicURL: req.MusicURL,
		Silent:   req.Silent,
	}
	if s.PerImage == 0 {
		s.PerImage = DefaultPerImage
	}
	if s.Width == 0 {
		s.Width = DefaultWidth
	}
	if s.Height == 0 {
		s.Height = DefaultHeight
	}
	if s.FPS == 0 {
		s.FPS = DefaultFPS
	}

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			err = fmt.Errorf("%s failed %q", verrs[0].Field(), verrs[0].Tag())
		}
		return Settings{}, recaperr.InvalidSettings(err)
	}
	if s.PerImage*time.Duration(s.FPS) < time.Second {
		return Settings{}, recaperr.InvalidSettings(fmt.Errorf("%w: %s at %d fps", ErrShorterThanFrame, s.PerImage, s.FPS))
	}

	return s, nil
}

func clampFade(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return DefaultFade
	}
	return math.Max(0, math.Min(MaxFade, *v))
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 {
	return &v
}

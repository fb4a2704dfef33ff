// Package imageload fetches and decodes one image reference into an in-memory raster.
package imageload

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Static errors for image loading.
var (
	// ErrEmptyReference is returned when the reference string is blank.
	ErrEmptyReference = errors.New("imageload: empty image reference")
	// ErrUnexpectedStatus is returned when an HTTP fetch answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("imageload: unexpected HTTP status")
	// ErrTooLarge is returned when the encoded image exceeds the byte limit.
	ErrTooLarge = errors.New("imageload: image exceeds size limit")
	// ErrUnusableRaster is returned when the decoded image has no pixels.
	ErrUnusableRaster = errors.New("imageload: decoded image has zero size")
	// ErrInvalidDataURI is returned for malformed data: references.
	ErrInvalidDataURI = errors.New("imageload: invalid data URI")
	// ErrTooManyPixels is returned when the image header declares more pixels
	// than the loader decodes.
	ErrTooManyPixels = errors.New("imageload: image dimensions exceed pixel limit")
	// ErrLocalReference is returned for paths and file:// URLs when local
	// files are disabled.
	ErrLocalReference = errors.New("imageload: local file references are disabled")
)

// DefaultMaxBytes caps the encoded size of a single image.
const DefaultMaxBytes int64 = 50 << 20

// DefaultMaxPixels caps the decoded size of a single image.
const DefaultMaxPixels int64 = 8192 * 8192

// Decoded is a raster ready for the compositor.
type Decoded struct {
	Width  int
	Height int
	Image  image.Image
	// Format is the decoder name reported by image.Decode ("png", "jpeg", ...).
	Format string
}

// Loader loads a single image reference. Implementations make exactly one
// attempt; retry policy belongs to the caller.
type Loader interface {
	Load(ctx context.Context, ref string) (*Decoded, error)
}

// ResourceLoader resolves http(s) URLs, file:// URLs, plain paths and
// base64 data URIs.
type ResourceLoader struct {
	httpClient *http.Client
	maxBytes   int64
	maxPixels  int64
	localFiles bool
}

// Option configures a ResourceLoader.
type Option func(*ResourceLoader)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(l *ResourceLoader) {
		l.httpClient = c
	}
}

// WithMaxBytes sets the maximum encoded image size.
func WithMaxBytes(n int64) Option {
	return func(l *ResourceLoader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithMaxPixels sets the largest width × height the loader decodes.
func WithMaxPixels(n int64) Option {
	return func(l *ResourceLoader) {
		if n > 0 {
			l.maxPixels = n
		}
	}
}

// WithLocalFiles enables or disables plain paths and file:// URLs. They are
// enabled by default.
func WithLocalFiles(enabled bool) Option {
	return func(l *ResourceLoader) {
		l.localFiles = enabled
	}
}

// NewResourceLoader creates a ResourceLoader.
func NewResourceLoader(opts ...Option) *ResourceLoader {
	l := &ResourceLoader{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxBytes:   DefaultMaxBytes,
		maxPixels:  DefaultMaxPixels,
		localFiles: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Compile-time check that ResourceLoader implements Loader.
var _ Loader = (*ResourceLoader)(nil)

// Load fetches and decodes ref.
func (l *ResourceLoader) Load(ctx context.Context, ref string) (*Decoded, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmptyReference
	}

	data, err := l.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrUnusableRaster
	}
	if int64(cfg.Width)*int64(cfg.Height) > l.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrUnusableRaster
	}

	return &Decoded{
		Width:  b.Dx(),
		Height: b.Dy(),
		Image:  img,
		Format: format,
	}, nil
}

func (l *ResourceLoader) fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return l.decodeDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.fetchHTTP(ctx, ref)
	case !l.localFiles:
		return nil, ErrLocalReference
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("parse file URL: %w", err)
		}
		return l.readFile(ctx, u.Path)
	default:
		return l.readFile(ctx, ref)
	}
}

func (l *ResourceLoader) fetchHTTP(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return l.readLimited(resp.Body)
}

func (l *ResourceLoader) readFile(ctx context.Context, path string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - references come from the photo selection surface
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer func() { _ = f.Close() }()

	return l.readLimited(f)
}

func (l *ResourceLoader) decodeDataURI(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, ErrInvalidDataURI
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > l.maxBytes {
		return nil, ErrTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataURI, err)
	}
	return data, nil
}

func (l *ResourceLoader) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

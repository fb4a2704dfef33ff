package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Static errors for audio loading.
var (
	// ErrNoSource is returned when no music URL is given.
	ErrNoSource = errors.New("no audio source")
	// ErrUnexpectedStatus is returned when the music server answers non-2xx.
	ErrUnexpectedStatus = errors.New("unexpected status fetching audio")
	// ErrTooLarge is returned when the audio exceeds the size limit.
	ErrTooLarge = errors.New("audio exceeds size limit")
	// ErrUndecodable is returned when ffmpeg finds no playable audio stream.
	ErrUndecodable = errors.New("audio could not be decoded")
)

// DefaultMaxBytes bounds a downloaded music file.
const DefaultMaxBytes = 100 << 20

// TempStore keeps downloaded music on local disk.
type TempStore interface {
	SaveTemp(ctx context.Context, name string, data io.Reader) (string, error)
	CleanupTemp(ctx context.Context, paths []string) error
}

// Loader fetches and probes background music.
type Loader struct {
	temp       TempStore
	client     *http.Client
	ffmpegPath string
	maxBytes   int64
	logger     *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient sets the client used for remote music.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithFFmpegPath sets the ffmpeg binary used to probe audio.
func WithFFmpegPath(path string) Option {
	return func(l *Loader) {
		if path != "" {
			l.ffmpegPath = path
		}
	}
}

// WithMaxBytes bounds downloaded files.
func WithMaxBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a Loader that keeps downloads in temp.
func NewLoader(temp TempStore, opts ...Option) *Loader {
	l := &Loader{
		temp:       temp,
		client:     &http.Client{Timeout: 30 * time.Second},
		ffmpegPath: "ffmpeg",
		maxBytes:   DefaultMaxBytes,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryLoad returns a looping Track for source, or nil when the music cannot be
// used. Failures are logged and never returned.
func (l *Loader) TryLoad(ctx context.Context, source string) *Track {
	if strings.TrimSpace(source) == "" {
		return nil
	}

	track, err := l.Load(ctx, source)
	if err != nil {
		l.logger.Warn("background music unavailable, rendering without audio",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return nil
	}

	l.logger.Debug("background music loaded",
		slog.String("path", track.Path),
		slog.Duration("duration", track.Duration),
	)
	return track
}

// Load fetches source (http(s) URL, file:// URL or local path) and probes it.
func (l *Loader) Load(ctx context.Context, source string) (*Track, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, ErrNoSource
	}

	path, release, err := l.fetch(ctx, source)
	if err != nil {
		return nil, err
	}

	duration, err := l.probeDuration(ctx, path)
	if err != nil {
		release()
		return nil, err
	}

	return NewTrack(path, duration, release), nil
}

func (l *Loader) fetch(ctx context.Context, source string) (string, func(), error) {
	u, err := url.Parse(source)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return l.download(ctx, source)
		case "file":
			return filepath.FromSlash(u.Path), func() {}, nil
		}
	}
	return source, func() {}, nil
}

func (l *Loader) download(ctx context.Context, source string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetch audio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body := &limitedReader{r: resp.Body, remaining: l.maxBytes}
	path, err := l.temp.SaveTemp(ctx, "music"+extensionOf(source), body)
	if err != nil {
		return "", nil, fmt.Errorf("save audio: %w", err)
	}

	release := func() {
		if err := l.temp.CleanupTemp(context.Background(), []string{path}); err != nil {
			l.logger.Warn("failed to remove music file", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
	return path, release, nil
}

// limitedReader fails with ErrTooLarge instead of truncating.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if lr.remaining < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > lr.remaining+1 {
		p = p[:lr.remaining+1]
	}
	n, err := lr.r.Read(p)
	lr.remaining -= int64(n)
	if lr.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

func extensionOf(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(u.Path))
	if len(ext) > 6 {
		return ""
	}
	return ext
}

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)
	audioRe    = regexp.MustCompile(`Stream #\d+:\d+.*: Audio:`)
)

// probeDuration reads the input header ffmpeg prints for path.
func (l *Loader) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, l.ffmpegPath, "-hide_banner", "-i", path)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg exits non-zero without an output file; the header is still printed.
	_ = cmd.Run()
	if ctx.Err() != nil {
		return 0, fmt.Errorf("probe audio: %w", ctx.Err())
	}

	return parseProbeOutput(stderr.String())
}

// parseProbeOutput extracts the duration of the first audio input.
func parseProbeOutput(output string) (time.Duration, error) {
	if !audioRe.MatchString(output) {
		return 0, fmt.Errorf("%w: no audio stream", ErrUndecodable)
	}

	matches := durationRe.FindStringSubmatch(output)
	if len(matches) < 5 {
		return 0, fmt.Errorf("%w: no duration", ErrUndecodable)
	}

	hours, _ := strconv.Atoi(matches[1])
	minutes, _ := strconv.Atoi(matches[2])
	seconds, _ := strconv.Atoi(matches[3])
	frac, _ := strconv.ParseFloat("0."+matches[4], 64)

	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(frac*float64(time.Second))
	if d <= 0 {
		return 0, fmt.Errorf("%w: zero duration", ErrUndecodable)
	}
	return d, nil
}

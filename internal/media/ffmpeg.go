// Package media drives the ffmpeg encoder: it probes which codecs and
// containers the local binary supports, negotiates an output profile and
// streams raw frames through an encode session.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"sync"
)

// Static errors for media operations.
var (
	// ErrFFmpegNotFound is returned when the ffmpeg binary cannot be executed.
	ErrFFmpegNotFound = errors.New("ffmpeg binary not found")
	// ErrInvalidDimensions is returned when the provided dimensions are not positive.
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive and even")
	// ErrInvalidFrameRate is returned when fps is not positive.
	ErrInvalidFrameRate = errors.New("invalid frame rate: must be positive")
	// ErrNoSupportedProfile is returned when no codec/container pair can be used.
	ErrNoSupportedProfile = errors.New("no supported codec/container profile")
	// ErrEmptyOutput is returned when the encoder accumulated zero bytes.
	ErrEmptyOutput = errors.New("encoder produced no data")
	// ErrSessionNotStarted is returned when frames are written before Start.
	ErrSessionNotStarted = errors.New("encode session not started")
	// ErrSessionStarted is returned when Start is called twice.
	ErrSessionStarted = errors.New("encode session already started")
	// ErrSessionClosed is returned when frames are written after Stop or Close.
	ErrSessionClosed = errors.New("encode session closed")
	// ErrFrameSize is returned when a frame does not match the session size.
	ErrFrameSize = errors.New("frame size does not match session")
)

// DefaultFFmpegPath is used when no explicit binary is configured.
const DefaultFFmpegPath = "ffmpeg"

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// runFFmpeg executes ffmpeg with the given arguments and returns its stdout.
func runFFmpeg(ctx context.Context, ffmpegPath string, args []string) ([]byte, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %w", ErrFFmpegNotFound, err)
		}
		return nil, &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return stdout.Bytes(), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

const (
	readBufferSize = 64 << 10
	stderrTailSize = 8 << 10
)

// FrameEncoder is an open encode session.
type FrameEncoder interface {
	// Start launches the encoder.
	Start(ctx context.Context) error
	// WriteFrame submits one surface. Frames are encoded in submission order.
	WriteFrame(frame *image.RGBA) error
	// Stop finishes the stream gracefully and returns the encoded bytes.
	Stop() ([]byte, error)
	// Close force-stops the encoder. It is a no-op after Stop.
	Close() error
	// MimeType returns the tag of the produced container.
	MimeType() string
}

// Encoder opens encode sessions.
type Encoder interface {
	Open(opts SessionOptions) (FrameEncoder, error)
}

// FFmpegEncoder implements Encoder with one ffmpeg process per session.
type FFmpegEncoder struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegEncoder(ffmpegPath string, logger *slog.Logger) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegEncoder{ffmpegPath: ffmpegPath, logger: logger}
}

// Open implements Encoder.
func (e *FFmpegEncoder) Open(opts SessionOptions) (FrameEncoder, error) {
	return OpenSession(e.ffmpegPath, opts, e.logger)
}

// Session streams raw RGBA frames into an ffmpeg process and accumulates the
// container bytes it writes to stdout.
type Session struct {
	ffmpegPath string
	opts       SessionOptions
	args       []string
	logger     *slog.Logger

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stderr   *tailBuffer
	readDone chan struct{}
	readErr  error

	mu     sync.Mutex
	chunks [][]byte
	size   int

	started atomic.Bool
	closed  atomic.Bool

	once   sync.Once
	result []byte
	err    error
}

// OpenSession validates opts and prepares a session. Nothing runs until Start.
func OpenSession(ffmpegPath string, opts SessionOptions, logger *slog.Logger) (*Session, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		ffmpegPath: ffmpegPath,
		opts:       opts,
		args:       BuildArgs(opts),
		logger:     logger,
		stderr:     newTailBuffer(stderrTailSize),
	}, nil
}

// Args returns the ffmpeg arguments of the session.
func (s *Session) Args() []string {
	return s.args
}

// MimeType implements FrameEncoder.
func (s *Session) MimeType() string {
	return s.opts.Profile.MimeType
}

// Start implements FrameEncoder. The process is killed if ctx is done before
// the session is stopped.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionStarted
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, s.ffmpegPath, s.args...)
	cmd.Stderr = s.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %w", ErrFFmpegNotFound, err)
		}
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.readDone = make(chan struct{})
	go s.readOutput(stdout)

	s.logger.Debug("encode session started",
		slog.String("mime_type", s.MimeType()),
		slog.Int("width", s.opts.Width),
		slog.Int("height", s.opts.Height),
		slog.Int("fps", s.opts.FPS),
	)

	return nil
}

func (s *Session) readOutput(r io.Reader) {
	defer close(s.readDone)

	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.appendChunk(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.readErr = err
			}
			return
		}
	}
}

func (s *Session) appendChunk(chunk []byte) {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.size += len(chunk)
	s.mu.Unlock()

	if s.opts.OnChunk != nil {
		s.opts.OnChunk(chunk)
	}
}

// BytesWritten returns how many encoded bytes have been received so far.
func (s *Session) BytesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// WriteFrame implements FrameEncoder.
func (s *Session) WriteFrame(frame *image.RGBA) error {
	if !s.started.Load() || s.stdin == nil {
		return ErrSessionNotStarted
	}
	if s.closed.Load() {
		return ErrSessionClosed
	}

	b := frame.Bounds()
	if b.Dx() != s.opts.Width || b.Dy() != s.opts.Height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrFrameSize, b.Dx(), b.Dy(), s.opts.Width, s.opts.Height)
	}

	rowLen := 4 * b.Dx()
	if frame.Stride == rowLen {
		return s.write(frame.Pix[:rowLen*b.Dy()])
	}
	for y := 0; y < b.Dy(); y++ {
		off := y * frame.Stride
		if err := s.write(frame.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) write(p []byte) error {
	if _, err := s.stdin.Write(p); err != nil {
		return s.writeFailed(err)
	}
	return nil
}

// writeFailed ends the session after a broken stdin. It waits for ffmpeg to
// exit so the error carries everything the process wrote to stderr.
func (s *Session) writeFailed(err error) error {
	s.once.Do(func() {
		_, _ = s.finish(false)
		s.err = &FFmpegError{Args: s.args, Stderr: s.stderr.String(), Err: err}
	})
	return s.err
}

// Stop implements FrameEncoder. It closes stdin, drains stdout and waits for
// the process. Zero accumulated bytes yields ErrEmptyOutput.
func (s *Session) Stop() ([]byte, error) {
	s.once.Do(func() {
		s.result, s.err = s.finish(false)
	})
	return s.result, s.err
}

// Close implements FrameEncoder.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		_, err = s.finish(true)
		s.err = ErrSessionClosed
	})
	return err
}

func (s *Session) finish(kill bool) ([]byte, error) {
	s.closed.Store(true)

	if s.cmd == nil {
		if kill {
			return nil, nil
		}
		return nil, ErrSessionNotStarted
	}

	if kill {
		_ = s.cmd.Process.Kill()
	}
	_ = s.stdin.Close()
	<-s.readDone
	waitErr := s.cmd.Wait()

	s.logger.Debug("encode session stopped",
		slog.Bool("killed", kill),
		slog.Int("bytes", s.BytesWritten()),
	)

	if kill {
		return nil, nil
	}
	if waitErr != nil {
		return nil, &FFmpegError{Args: s.args, Stderr: s.stderr.String(), Err: waitErr}
	}
	if s.readErr != nil {
		return nil, &FFmpegError{Args: s.args, Stderr: s.stderr.String(), Err: s.readErr}
	}

	s.mu.Lock()
	data := bytes.Join(s.chunks, nil)
	s.mu.Unlock()

	if len(data) == 0 {
		return nil, ErrEmptyOutput
	}
	return data, nil
}
